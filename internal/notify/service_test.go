package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pullover/internal/actioncache"
	"pullover/internal/api"
	logx "pullover/pkg/logx"
)

type fakeSink struct {
	name string
	err  error

	mu  sync.Mutex
	got []api.Message
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(ctx context.Context, m api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return s.err
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDeliverFansOutToAllSinks(t *testing.T) {
	t.Parallel()
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	n := New(Config{}, []Sink{a, b}, nil, nil, nil, logx.Nop())

	if err := n.Deliver(context.Background(), api.Message{ID: 1, Text: "hi"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("sink counts = %d/%d, want 1/1", a.count(), b.count())
	}
}

func TestSinkFailureIsAbsorbed(t *testing.T) {
	t.Parallel()
	bad := &fakeSink{name: "bad", err: errors.New("display server gone")}
	good := &fakeSink{name: "good"}
	n := New(Config{}, []Sink{bad, good}, nil, nil, nil, logx.Nop())

	// A failing sink must not fail the delivery: the watermark has to
	// advance or the message would wedge the stream.
	if err := n.Deliver(context.Background(), api.Message{ID: 1, Text: "hi"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if good.count() != 1 {
		t.Fatal("later sink skipped after earlier failure")
	}
}

func TestDedupWindowSuppressesRedelivery(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{name: "s"}
	n := New(Config{DedupWindow: time.Minute}, []Sink{sink}, nil, nil, nil, logx.Nop())

	ctx := context.Background()
	_ = n.Deliver(ctx, api.Message{ID: 42, Text: "once"})
	_ = n.Deliver(ctx, api.Message{ID: 42, Text: "once"})
	_ = n.Deliver(ctx, api.Message{ID: 43, Text: "different id"})

	if sink.count() != 2 {
		t.Fatalf("sink saw %d messages, want redelivery of id 42 suppressed", sink.count())
	}
}

func TestZeroWindowShowsEveryRedelivery(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{name: "s"}
	n := New(Config{}, []Sink{sink}, nil, nil, nil, logx.Nop())

	ctx := context.Background()
	_ = n.Deliver(ctx, api.Message{ID: 42, Text: "again"})
	_ = n.Deliver(ctx, api.Message{ID: 42, Text: "again"})

	if sink.count() != 2 {
		t.Fatalf("sink saw %d messages, want both redeliveries", sink.count())
	}
}

func TestDeliverParksBodyInActionCache(t *testing.T) {
	t.Parallel()
	actions := actioncache.New(time.Minute)
	n := New(Config{}, []Sink{&fakeSink{name: "s"}}, actions, nil, nil, logx.Nop())

	_ = n.Deliver(context.Background(), api.Message{ID: 1, Text: "body"})
	if actions.Len() != 1 {
		t.Fatalf("action cache holds %d entries, want 1", actions.Len())
	}
}
