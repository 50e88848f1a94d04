package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/chat-recall/internal/core/recall"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.RecordChunksIndexed(3, 1)
	r.RecordChunksIndexed(2, 0)
	r.RecordRetrieval(recall.RetrievalOK, 3, 120*time.Millisecond)
	r.RecordRetrieval(recall.RetrievalTimeout, 0, 3*time.Second)
	r.RecordRetrieval(recall.RetrievalDisabled, 0, 0)
	r.RecordAssembly(950, 4, 1)
	r.RecordBackfill(nil)
	r.RecordBackfill(errors.New("db down"))

	assert.Equal(t, 5.0, testutil.ToFloat64(r.chunksIndexed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.chunksFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrievals.WithLabelValues(recall.RetrievalOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrievals.WithLabelValues(recall.RetrievalTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retrievals.WithLabelValues(recall.RetrievalDisabled)))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.trimmedSegments.WithLabelValues("recall")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trimmedSegments.WithLabelValues("turn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.backfillRuns.WithLabelValues("error")))

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	var latencySamples uint64
	for _, mf := range families {
		if mf.GetName() == "chat_recall_retrieval_duration_seconds" {
			latencySamples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), latencySamples)
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.RecordChunksIndexed(7, 0)

	server := httptest.NewServer(r.Handler())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chat_recall_chunks_indexed_total 7")
	assert.Contains(t, string(body), "go_goroutines")
}
