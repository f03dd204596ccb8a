package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/shaft/internal/middleware"
	"github.com/hitoshi/shaft/internal/model"
)

// Pinger はストアの疎通確認を行う。repository.Storeが実装する。
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthTimeout はヘルスチェック1回あたりの上限。
const healthTimeout = 3 * time.Second

// Health はストアに疎通できれば200、できなければ503を返す。
// GET /health
func Health(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
