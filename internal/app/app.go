// Package app はコマンドの解析と依存関係の組み立てを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shaft/internal/auth"
	"github.com/hitoshi/shaft/internal/balance"
	"github.com/hitoshi/shaft/internal/config"
	"github.com/hitoshi/shaft/internal/database"
	"github.com/hitoshi/shaft/internal/handler"
	"github.com/hitoshi/shaft/internal/identity"
	"github.com/hitoshi/shaft/internal/ledger"
	"github.com/hitoshi/shaft/internal/logger"
	"github.com/hitoshi/shaft/internal/metrics"
	"github.com/hitoshi/shaft/internal/middleware"
	"github.com/hitoshi/shaft/internal/repository"
	"github.com/hitoshi/shaft/internal/security"
	"github.com/hitoshi/shaft/internal/session"
)

// defaultServerPort はSERVER_PORT未設定時のポート。
const defaultServerPort = "8975"

// Init はアプリケーションの初期化を行う。
// 設定ファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultServerPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		migrateArgs, err := ParseMigrateArgs(rest)
		if err != nil {
			return err
		}
		return runMigrate(cfg, migrateArgs)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// openStore は設定されたドライバーでストアを開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	pool := database.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}

	var store repository.Store
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		slog.Warn("using in-memory store: data is lost on restart")
		return repository.NewMemoryStore(), nil
	case config.DriverPgx:
		p, err := database.OpenPool(ctx, cfg.DatabaseURL, pool)
		if err != nil {
			return nil, err
		}
		store = repository.NewPgxStore(p, cfg.DBAcquireTimeout)
	default:
		db, err := database.Open(cfg.DatabaseURL, pool)
		if err != nil {
			return nil, err
		}
		store = repository.NewPostgresStore(db)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBAcquireTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return store, nil
}

// Server は組み立て済みのHTTPハンドラーと、停止時に解放するリソースを保持する。
type Server struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンド処理を停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer はストアとOAuthプロバイダーから全依存関係を組み立てる。
// storeは計測デコレータで包まれる。regにはアプリケーションのメトリクスを登録する。
func NewServer(cfg *config.Config, store repository.Store, oauth auth.OAuthProvider, reg *prometheus.Registry) *Server {
	collector := metrics.NewCollector(reg)
	instrumented := repository.NewInstrumentedStore(store, collector)

	// ドメインサービス
	identities := identity.NewService(instrumented)
	engine := balance.NewEngine(instrumented)
	sessions := session.NewService(instrumented, engine, collector)
	ledgerService := ledger.NewService(instrumented, collector)
	authService := auth.NewService(oauth, identities, sessions, collector, auth.ServiceConfig{
		RequiredOrg: cfg.GitHubRequiredOrg,
	})

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitShaft),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		Authenticator:     middleware.NewAuthenticator(sessions),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			TokenMaxAge:  cfg.CookieMaxAge,
			RequiredOrg:  cfg.GitHubRequiredOrg,
		},

		LedgerService:   ledgerService,
		BalanceService:  engine,
		ReasonSanitizer: security.NewReasonSanitizer(),
		APIConfig: handler.APIHandlerConfig{
			DefaultTransactionsLimit: cfg.RecentTransactionsLimit,
		},

		Pinger:         instrumented,
		MetricsHandler: metrics.Handler(reg),
	})

	return &Server{Handler: router, rateLimiter: rateLimiter}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	oauth := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
	})

	srv := NewServer(cfg, store, oauth, reg)
	defer srv.Close()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, args MigrateArgs) error {
	if cfg.DatabaseDriver == config.DriverMemory {
		return fmt.Errorf("migrations require a PostgreSQL driver, got %q", cfg.DatabaseDriver)
	}

	slog.Info("running database migrations",
		slog.String("direction", string(args.Direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		version uint
		err     error
	)
	if args.Direction == MigrateDown {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, args.Steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
