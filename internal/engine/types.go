package engine

import (
	"context"
	"time"

	"pullover/internal/api"
	"pullover/internal/push"
)

// Callback consumes one decoded message, icon already resolved to a local
// path when present. Display logic runs outside the core and must return
// promptly; a non-nil error aborts the current batch before its watermark is
// advanced, so the whole batch will be redelivered.
type Callback func(ctx context.Context, m api.Message) error

// WatermarkClient is the stateless HTTP surface the processor drives.
// Satisfied by *api.Client.
type WatermarkClient interface {
	FetchPending(ctx context.Context) ([]api.Message, error)
	AdvanceWatermark(ctx context.Context, id int64) error
}

// IconResolver maps an icon id to a local file path. Satisfied by
// *icons.Cache. A nil resolver delivers every message without an icon.
type IconResolver interface {
	Resolve(ctx context.Context, iconID string) (string, error)
}

// SignalChannel is the push stream the engine owns. Satisfied by
// *push.Channel.
type SignalChannel interface {
	Connect(ctx context.Context) error
	WaitSignal(ctx context.Context) (push.Signal, error)
	Close() error
}

const (
	// DefaultBackoff is the fixed sleep before a reconnect attempt. The only
	// delayed path in the engine; it keeps a consistently failing server
	// from being hammered in a hot loop.
	DefaultBackoff = 3 * time.Second

	// DefaultFetchRetries is the per-cycle retry budget for failed fetches.
	DefaultFetchRetries = 2

	// DefaultPollSchedule fires a safety-net batch cycle even when every
	// push signal is lost.
	DefaultPollSchedule = "@every 10m"
)
