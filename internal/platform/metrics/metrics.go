package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/chat-recall/internal/core/recall"
)

const namespace = "chat_recall"

// Recorder は recall.MetricsRecorder を Prometheus で実装する
// グローバルレジストリは使わず、Recorder ごとに専用の Registry を持つ
type Recorder struct {
	registry *prometheus.Registry

	chunksIndexed    prometheus.Counter
	chunksFailed     prometheus.Counter
	retrievals       *prometheus.CounterVec
	retrievalLatency prometheus.Histogram
	recallCandidates prometheus.Histogram
	promptTokens     prometheus.Histogram
	trimmedSegments  *prometheus.CounterVec
	backfillRuns     *prometheus.CounterVec
}

// NewRecorder は新しい Recorder を作成し、メトリクスを登録する
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Number of chunks written to the embedding store.",
		}),
		chunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_failed_total",
			Help:      "Number of chunk windows that failed to embed or persist.",
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Number of recall retrievals by outcome.",
		}, []string{"outcome"}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of recall retrieval including embedding.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		recallCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Number of candidates returned per retrieval.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Token count of assembled prompts.",
			Buckets:   prometheus.ExponentialBuckets(128, 2, 8),
		}),
		trimmedSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trimmed_segments_total",
			Help:      "Number of prompt segments dropped to fit the token budget.",
		}, []string{"kind"}),
		backfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_runs_total",
			Help:      "Number of backfill runs by result.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.chunksIndexed,
		r.chunksFailed,
		r.retrievals,
		r.retrievalLatency,
		r.recallCandidates,
		r.promptTokens,
		r.trimmedSegments,
		r.backfillRuns,
	)

	return r
}

// インターフェース実装の確認
var _ recall.MetricsRecorder = (*Recorder)(nil)

func (r *Recorder) RecordChunksIndexed(written, failed int) {
	r.chunksIndexed.Add(float64(written))
	r.chunksFailed.Add(float64(failed))
}

func (r *Recorder) RecordRetrieval(outcome string, candidates int, elapsed time.Duration) {
	r.retrievals.WithLabelValues(outcome).Inc()
	if outcome == recall.RetrievalDisabled {
		return
	}
	r.retrievalLatency.Observe(elapsed.Seconds())
	r.recallCandidates.Observe(float64(candidates))
}

func (r *Recorder) RecordAssembly(promptTokens, recallDropped, turnsDropped int) {
	r.promptTokens.Observe(float64(promptTokens))
	r.trimmedSegments.WithLabelValues(string(recall.SegmentRecall)).Add(float64(recallDropped))
	r.trimmedSegments.WithLabelValues(string(recall.SegmentTurn)).Add(float64(turnsDropped))
}

// RecordBackfill はバックフィル1回分の結果を記録する
func (r *Recorder) RecordBackfill(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.backfillRuns.WithLabelValues(result).Inc()
}

// Registry は登録先の Registry を返す
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler は /metrics 用の HTTP ハンドラを返す
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
