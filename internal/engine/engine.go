// Package engine drives the notification sync loop: it owns the push
// channel state machine, triggers batch cycles on control signals and on a
// fixed polling schedule, and reconnects with a fixed backoff after any
// failure.
package engine

import (
	"context"
	"fmt"
	"time"

	"pullover/internal/eventbus"
	"pullover/internal/push"
	logx "pullover/pkg/logx"
)

type Config struct {
	// Backoff is the fixed sleep between reconnect attempts.
	Backoff time.Duration
}

// Engine is the orchestrator. It is the sole owner of the push channel: no
// other goroutine connects to or reads from it.
type Engine struct {
	channel SignalChannel
	trigger func()
	bus     eventbus.Bus
	log     logx.Logger

	backoff time.Duration
}

// New builds the orchestrator. trigger requests one batch cycle; it must be
// non-blocking (Processor.Trigger qualifies).
func New(cfg Config, channel SignalChannel, trigger func(), bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		channel: channel,
		trigger: trigger,
		bus:     bus,
		log:     log,
		backoff: cfg.Backoff,
	}
}

// Run loops until ctx is canceled. Each pass bootstraps a batch cycle
// (covering messages that arrived while disconnected), connects the channel,
// and services signals until something breaks; then it closes the channel,
// sleeps the backoff, and starts over.
func (e *Engine) Run(ctx context.Context) error {
	// Unblock a read stuck inside WaitSignal when the process shuts down.
	// Close is idempotent, so racing with the loop's own close is fine.
	go func() {
		<-ctx.Done()
		_ = e.channel.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.trigger()

		err := e.serveConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.log.Warn("push channel down, reconnecting", logx.Err(err), logx.Duration("backoff", e.backoff))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.EventChannelDown, Data: err.Error()})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff):
		}
	}
}

// serveConnection connects and runs the inner signal loop. The channel is
// closed on every exit path.
func (e *Engine) serveConnection(ctx context.Context) error {
	defer e.channel.Close()

	if err := e.channel.Connect(ctx); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.EventChannelConnected})
	}

	for {
		sig, err := e.channel.WaitSignal(ctx)
		if err != nil {
			return err
		}
		switch sig {
		case push.SignalKeepalive:
			// Peer is alive; nothing to do.
		case push.SignalNewMessage:
			e.trigger()
		default:
			// Reload and error are both terminal for this connection.
			return fmt.Errorf("push channel: server requested reconnect (%s)", sig)
		}
	}
}
