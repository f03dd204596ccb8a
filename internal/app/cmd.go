package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はマイグレーションの方向。
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// MigrateArgs はmigrateサブコマンドの引数。
type MigrateArgs struct {
	Direction MigrateDirection
	Steps     int // downの場合のみ使用
}

// ParseMigrateArgs はmigrate以降の引数を解析する。
//
//	migrate            すべて適用
//	migrate up         すべて適用
//	migrate down [n]   直近n件（省略時1件）を取り消す
func ParseMigrateArgs(args []string) (MigrateArgs, error) {
	if len(args) == 0 || args[0] == string(MigrateUp) {
		if len(args) > 1 {
			return MigrateArgs{}, fmt.Errorf("migrate up takes no arguments")
		}
		return MigrateArgs{Direction: MigrateUp}, nil
	}

	if args[0] != string(MigrateDown) {
		return MigrateArgs{}, fmt.Errorf("unknown migrate direction %q (want up or down)", args[0])
	}

	steps := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return MigrateArgs{}, fmt.Errorf("invalid step count %q", args[1])
		}
		steps = n
	}
	return MigrateArgs{Direction: MigrateDown, Steps: steps}, nil
}
