// Package logsink receives one record per proxied request from the
// dispatcher's side-channel logging task. The sink behind the interface
// (stdout, object storage, analytics pipeline) is deployment wiring; the
// request plane only ever sees Sink.
package logsink

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/meridianhq/ai-gateway/common/logger"
)

// Record is one request's worth of observability data. It holds owned
// copies only; nothing in here may reference request-lifetime state.
type Record struct {
	RequestId string
	RouterId  string
	Provider  string
	Endpoint  string
	Model     string
	UserId    string

	Status   int
	Stream   bool
	CacheHit bool

	StartTime time.Time
	// TFFT is time to first upstream body byte; zero when the request
	// failed before any byte arrived.
	TFFT    time.Duration
	Latency time.Duration

	ResponseBytes int64
	Error         string
}

// Sink accepts records. Submit must be safe for concurrent use; failures
// are reported to the caller, which counts them and never surfaces them to
// clients.
type Sink interface {
	Submit(ctx context.Context, record *Record) error
}

// ZapSink writes records to the process log; the default for sidecar and
// self-hosted deployments without an analytics pipeline.
type ZapSink struct{}

func (ZapSink) Submit(_ context.Context, r *Record) error {
	logger.Logger.Info("request",
		zap.String("request_id", r.RequestId),
		zap.String("router", r.RouterId),
		zap.String("provider", r.Provider),
		zap.String("endpoint", r.Endpoint),
		zap.String("model", r.Model),
		zap.Int("status", r.Status),
		zap.Bool("stream", r.Stream),
		zap.Bool("cache_hit", r.CacheHit),
		zap.Duration("tfft", r.TFFT),
		zap.Duration("latency", r.Latency),
		zap.Int64("response_bytes", r.ResponseBytes),
		zap.String("error", r.Error),
	)
	return nil
}

// Discard drops every record; used in tests.
type Discard struct{}

func (Discard) Submit(context.Context, *Record) error { return nil }
