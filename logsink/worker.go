package logsink

import (
	"context"
	"time"

	"github.com/Laisky/zap"
	"golang.org/x/sync/semaphore"

	"github.com/meridianhq/ai-gateway/common/graceful"
	"github.com/meridianhq/ai-gateway/common/logger"
	"github.com/meridianhq/ai-gateway/relay/metrics"
)

const submitTimeout = 10 * time.Second

// Worker bounds the concurrency of detached logging tasks: one permit per
// in-flight request. When every permit is taken, Submit drops the record
// and counts the failure, so a slow sink never blocks a client response.
type Worker struct {
	sink Sink
	sem  *semaphore.Weighted
}

func NewWorker(sink Sink, maxConcurrent int64) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 512
	}
	return &Worker{sink: sink, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Submit hands the record to the sink on a tracked goroutine. The record
// must already own all its data. Failures are counted, never returned.
func (w *Worker) Submit(record *Record) {
	if !w.sem.TryAcquire(1) {
		metrics.LogSubmitFailuresTotal.Inc()
		logger.Logger.Warn("log worker saturated, record dropped",
			zap.String("request_id", record.RequestId))
		return
	}
	graceful.GoCritical(context.Background(), "logsink-submit", func(ctx context.Context) {
		defer w.sem.Release(1)
		ctx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()
		if err := w.sink.Submit(ctx, record); err != nil {
			metrics.LogSubmitFailuresTotal.Inc()
			logger.Logger.Warn("log submit failed",
				zap.String("request_id", record.RequestId), zap.Error(err))
		}
	})
}
