// Package notify is the delivery side of pullover: it takes decoded
// messages from the sync engine's callback and fans them out to the
// configured sinks (desktop notifications, Telegram, log).
//
// The engine guarantees at-least-once delivery; everything here is
// presentation. Sink failures are absorbed, duplicate re-displays are
// optionally suppressed, and each displayed body is parked in the action
// cache so later UI actions can still resolve it.
package notify

import (
	"context"
	"sync"
	"time"

	"pullover/internal/actioncache"
	"pullover/internal/api"
	"pullover/internal/eventbus"
	"pullover/internal/storage"
	logx "pullover/pkg/logx"
)

type Notifier struct {
	cfg     Config
	sinks   []Sink
	actions *actioncache.Cache
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger

	// In-memory seen cache; the store (when configured) carries it across
	// restarts.
	smu  sync.Mutex
	seen map[int64]time.Time
}

func New(cfg Config, sinks []Sink, actions *actioncache.Cache, store storage.Store, bus eventbus.Bus, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:     cfg,
		sinks:   sinks,
		actions: actions,
		store:   store,
		bus:     bus,
		log:     log,
		seen:    map[int64]time.Time{},
	}
}

// Deliver is the engine's delivery callback. It never fails: a message the
// sinks cannot render is still considered delivered (the engine's watermark
// must advance, or the same message would wedge the whole stream).
func (n *Notifier) Deliver(ctx context.Context, m api.Message) error {
	if n.suppressed(ctx, m.ID) {
		n.log.Debug("duplicate redelivery suppressed", logx.Int64("message_id", m.ID))
		return nil
	}

	token := ""
	if n.actions != nil {
		token = newToken()
		n.actions.Put(token, m.Text)
	}

	for _, sink := range n.sinks {
		start := time.Now()
		err := sink.Send(ctx, m)
		if err != nil {
			n.log.Warn("sink delivery failed",
				logx.String("sink", sink.Name()), logx.Int64("message_id", m.ID), logx.Err(err))
		}
		n.audit(ctx, m, sink.Name(), err, time.Since(start))
	}

	n.markSeen(ctx, m.ID)
	if n.bus != nil {
		n.bus.Publish(eventbus.Event{Type: eventbus.EventMessageDelivered, Data: m.ID})
	}
	n.log.Info("message delivered",
		logx.Int64("message_id", m.ID), logx.String("title", m.DisplayTitle()),
		logx.Int("priority", m.Priority), logx.String("action_token", token))
	return nil
}

// suppressed reports whether m.ID was already displayed within the dedup
// window. With a zero window nothing is ever suppressed.
func (n *Notifier) suppressed(ctx context.Context, id int64) bool {
	if n.cfg.DedupWindow <= 0 {
		return false
	}
	now := time.Now()

	n.smu.Lock()
	until, ok := n.seen[id]
	n.smu.Unlock()
	if ok && now.Before(until) {
		return true
	}

	if n.store != nil {
		until, ok, err := n.store.GetSeen(ctx, id)
		if err != nil {
			n.log.Debug("seen lookup failed", logx.Err(err))
			return false
		}
		return ok && now.Before(until)
	}
	return false
}

func (n *Notifier) markSeen(ctx context.Context, id int64) {
	if n.cfg.DedupWindow <= 0 {
		return
	}
	until := time.Now().Add(n.cfg.DedupWindow)

	n.smu.Lock()
	n.seen[id] = until
	// Bounded: drop expired entries opportunistically.
	if len(n.seen) > 4096 {
		now := time.Now()
		for k, v := range n.seen {
			if now.After(v) {
				delete(n.seen, k)
			}
		}
	}
	n.smu.Unlock()

	if n.store != nil {
		if err := n.store.PutSeen(ctx, id, until); err != nil {
			n.log.Debug("seen persist failed", logx.Err(err))
		}
	}
}

func (n *Notifier) audit(ctx context.Context, m api.Message, sink string, sendErr error, took time.Duration) {
	if n.store == nil {
		return
	}
	e := storage.DeliveryEntry{
		At:        time.Now(),
		MessageID: m.ID,
		Title:     m.DisplayTitle(),
		Priority:  m.Priority,
		Sink:      sink,
		OK:        sendErr == nil,
		TookMS:    took.Milliseconds(),
	}
	if sendErr != nil {
		e.Error = sendErr.Error()
	}
	if err := n.store.AppendDelivery(ctx, e); err != nil {
		n.log.Debug("delivery audit append failed", logx.Err(err))
	}
}
