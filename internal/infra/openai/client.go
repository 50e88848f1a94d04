package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultTimeout はAPI呼び出し1回あたりのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// retryPolicy はレート制限時のリトライ設定
type retryPolicy struct {
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries:  MaxRetries,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
	}
}

// backoff は attempt 回目（1始まり）のリトライ前の待機時間を返す
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.baseBackoff
	if d > p.maxBackoff {
		d = p.maxBackoff
	}
	return d
}

// withRetry は fn をレート制限エラー（429）の間だけ Exponential Backoff でリトライする
// それ以外のエラーは即座に返す
func withRetry[T any](ctx context.Context, p retryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isRateLimitError(err) {
			continue
		}
		return zero, err
	}

	return zero, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func newClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// リトライは withRetry で制御する
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}
