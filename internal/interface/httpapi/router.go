package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger は依存先の疎通確認を行う
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse は /healthz のレスポンス
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

const healthTimeout = 2 * time.Second

// NewRouter はワーカーが公開するエンドポイントを組み立てる
// metrics が nil の場合 /metrics は登録しない
func NewRouter(db Pinger, metrics http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/healthz", handleHealth(db, logger))
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

func handleHealth(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Database: "ok"}
		status := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.Warn("ヘルスチェック失敗", "error", err)
				resp.Status = "degraded"
				resp.Database = "unreachable"
				resp.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
