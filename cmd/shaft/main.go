// Command shaft はIOU台帳サーバーを起動する。
//
//	shaft [serve]          APIサーバーを起動する
//	shaft migrate [up]     マイグレーションをすべて適用する
//	shaft migrate down [n] 直近n件のマイグレーションを取り消す
//	shaft healthcheck      /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/shaft/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shaft: %v\n", err)
		os.Exit(1)
	}
}
