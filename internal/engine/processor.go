package engine

import (
	"context"

	"pullover/internal/api"
	"pullover/internal/eventbus"
	logx "pullover/pkg/logx"
)

// Processor runs fetch-process-acknowledge batch cycles.
//
// Three independent triggers can ask for a cycle concurrently: the polling
// timer, the push-signal handler, and the engine's reconnect bootstrap.
// Rather than ad hoc locking at each call site, all of them funnel through a
// coalescing trigger channel into one worker loop that owns the per-device
// exclusion, so overlapping fetch-acknowledge windows cannot happen.
type Processor struct {
	client  WatermarkClient
	icons   IconResolver
	deliver Callback
	bus     eventbus.Bus
	log     logx.Logger

	retryMax int

	// triggers carries the remaining retry budget of the requested cycle.
	// Capacity 1: a pending trigger covers any later request, because every
	// cycle fetches all outstanding messages anyway.
	triggers chan int
}

func NewProcessor(client WatermarkClient, icons IconResolver, deliver Callback, retryMax int, bus eventbus.Bus, log logx.Logger) *Processor {
	if retryMax < 0 {
		retryMax = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{
		client:   client,
		icons:    icons,
		deliver:  deliver,
		bus:      bus,
		log:      log,
		retryMax: retryMax,
		triggers: make(chan int, 1),
	}
}

// Trigger requests a batch cycle with a full retry budget. Non-blocking and
// safe from any goroutine; redundant triggers coalesce with the pending one.
func (p *Processor) Trigger() {
	p.enqueue(p.retryMax)
}

func (p *Processor) enqueue(budget int) {
	select {
	case p.triggers <- budget:
	default:
		// A cycle is already queued; it covers this request.
	}
}

// Run is the single worker loop. It must be running for Trigger to have any
// effect, and must not be started twice.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case budget := <-p.triggers:
			p.cycle(ctx, budget)
		}
	}
}

// cycle is one fetch-process-acknowledge pass. The worker loop is the
// exclusion scope: between a failed attempt and its rescheduled retry the
// worker is free to serve other triggers.
func (p *Processor) cycle(ctx context.Context, budget int) {
	msgs, err := p.client.FetchPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if budget > 0 {
			p.log.Warn("fetch failed, retrying", logx.Err(err), logx.Int("budget_left", budget-1))
			p.enqueue(budget - 1)
			return
		}
		// Budget exhausted: drop the cycle. The next poll tick or push
		// signal starts over with a fresh budget; the watermark is
		// untouched, so nothing is lost.
		p.log.Error("fetch failed, retry budget exhausted", logx.Err(err))
		p.publishFailed(0, err)
		return
	}

	if len(msgs) == 0 {
		// The service ignores an empty advance; don't issue one.
		p.publishCompleted(0, 0)
		return
	}

	var maxID int64
	for i := range msgs {
		p.resolveIcon(ctx, &msgs[i])

		if err := p.deliver(ctx, msgs[i]); err != nil {
			// Abort before the watermark call: the whole batch redelivers
			// on the next cycle. At-least-once display is the contract.
			p.log.Error("delivery failed, batch aborted before acknowledge",
				logx.Err(err), logx.Int64("message_id", msgs[i].ID), logx.Int("delivered", i))
			p.publishFailed(i, err)
			return
		}
		if msgs[i].ID > maxID {
			maxID = msgs[i].ID
		}
	}

	if err := p.client.AdvanceWatermark(ctx, maxID); err != nil {
		// Not advancing only risks redelivery of already-shown messages.
		p.log.Warn("watermark advance failed, batch will redeliver", logx.Err(err), logx.Int64("watermark", maxID))
		p.publishFailed(len(msgs), err)
		return
	}

	p.log.Info("batch processed", logx.Int("messages", len(msgs)), logx.Int64("watermark", maxID))
	p.publishCompleted(len(msgs), maxID)
}

// resolveIcon fills m.IconPath, swallowing failures: the icon is decoration
// and never blocks message delivery.
func (p *Processor) resolveIcon(ctx context.Context, m *api.Message) {
	if p.icons == nil || m.Icon == "" {
		return
	}
	path, err := p.icons.Resolve(ctx, m.Icon)
	if err != nil {
		p.log.Warn("icon resolution failed, delivering without icon", logx.Err(err), logx.String("icon", m.Icon))
		return
	}
	m.IconPath = path
}

func (p *Processor) publishCompleted(n int, watermark int64) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{
		Type: eventbus.EventCycleCompleted,
		Data: eventbus.CycleInfo{Messages: n, Watermark: watermark},
	})
}

func (p *Processor) publishFailed(n int, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{
		Type: eventbus.EventCycleFailed,
		Data: eventbus.CycleInfo{Messages: n, Err: err.Error()},
	})
}
