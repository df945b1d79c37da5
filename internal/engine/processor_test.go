package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pullover/internal/api"
	logx "pullover/pkg/logx"
)

// scriptClient serves scripted batches, then empty ones. It also asserts
// that fetch-acknowledge windows never overlap.
type scriptClient struct {
	mu         sync.Mutex
	batches    [][]api.Message
	fetchErrs  []error
	fetchCalls int
	advances   []int64
	advanceErr error

	inCycle atomic.Bool
	overlap atomic.Bool
}

func (c *scriptClient) FetchPending(ctx context.Context) ([]api.Message, error) {
	if !c.inCycle.CompareAndSwap(false, true) {
		c.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	if len(c.fetchErrs) > 0 {
		err := c.fetchErrs[0]
		c.fetchErrs = c.fetchErrs[1:]
		if err != nil {
			c.inCycle.Store(false)
			return nil, err
		}
	}
	if len(c.batches) == 0 {
		c.inCycle.Store(false)
		return nil, nil
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b, nil
}

func (c *scriptClient) AdvanceWatermark(ctx context.Context, id int64) error {
	defer c.inCycle.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advances = append(c.advances, id)
	return c.advanceErr
}

func (c *scriptClient) stats() (fetches int, advances []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchCalls, append([]int64(nil), c.advances...)
}

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(ctx context.Context, iconID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "/cache/icons/" + iconID + ".png", nil
}

// recorder captures the delivery callback's view of the batch.
type recorder struct {
	mu        sync.Mutex
	delivered []api.Message
	failOnID  int64
	endCycle  func() // marks delivery-failure cycle ends for the overlap check
}

func (r *recorder) deliver(ctx context.Context, m api.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOnID != 0 && m.ID == r.failOnID {
		if r.endCycle != nil {
			r.endCycle()
		}
		return errors.New("sink wedged")
	}
	r.delivered = append(r.delivered, m)
	return nil
}

func (r *recorder) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.delivered))
	for i, m := range r.delivered {
		out[i] = m.ID
	}
	return out
}

func startProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCycleDeliversInOrderAndAdvancesOnce(t *testing.T) {
	t.Parallel()
	client := &scriptClient{batches: [][]api.Message{{
		{ID: 5, Title: "a", Text: "first"},
		{ID: 7, Title: "b", Text: "second"},
	}}}
	rec := &recorder{}
	p := NewProcessor(client, nil, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "watermark advance", func() bool {
		_, adv := client.stats()
		return len(adv) == 1
	})

	ids := rec.ids()
	if len(ids) != 2 || ids[0] != 5 || ids[1] != 7 {
		t.Fatalf("delivered ids = %v, want [5 7]", ids)
	}
	_, adv := client.stats()
	if len(adv) != 1 || adv[0] != 7 {
		t.Fatalf("advances = %v, want exactly [7]", adv)
	}
}

func TestEmptyBatchSkipsWatermark(t *testing.T) {
	t.Parallel()
	client := &scriptClient{}
	rec := &recorder{}
	p := NewProcessor(client, nil, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "fetch", func() bool {
		fetches, _ := client.stats()
		return fetches >= 1
	})
	time.Sleep(20 * time.Millisecond)

	if _, adv := client.stats(); len(adv) != 0 {
		t.Fatalf("advances = %v, want none for empty batch", adv)
	}
}

func TestDeliveryFailureWithholdsWatermark(t *testing.T) {
	t.Parallel()
	client := &scriptClient{batches: [][]api.Message{{
		{ID: 5, Text: "ok"},
		{ID: 7, Text: "bad"},
	}}}
	rec := &recorder{failOnID: 7, endCycle: func() { client.inCycle.Store(false) }}
	p := NewProcessor(client, nil, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "partial delivery", func() bool {
		return len(rec.ids()) == 1
	})
	time.Sleep(20 * time.Millisecond)

	if _, adv := client.stats(); len(adv) != 0 {
		t.Fatalf("advances = %v, watermark must not move on partial failure", adv)
	}
}

func TestFetchRetryBudgetExhausts(t *testing.T) {
	t.Parallel()
	boom := errors.New("fetch down")
	client := &scriptClient{fetchErrs: []error{boom, boom, boom, boom, boom}}
	rec := &recorder{}
	p := NewProcessor(client, nil, rec.deliver, 2, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "retries", func() bool {
		fetches, _ := client.stats()
		return fetches == 3 // initial attempt + 2 retries
	})
	time.Sleep(30 * time.Millisecond)

	fetches, adv := client.stats()
	if fetches != 3 {
		t.Fatalf("fetches = %d, want budget to stop at 3", fetches)
	}
	if len(adv) != 0 {
		t.Fatalf("advances = %v, want none", adv)
	}
}

func TestIconFailureDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()
	client := &scriptClient{batches: [][]api.Message{{
		{ID: 9, Text: "hi", Icon: "app-1"},
	}}}
	rec := &recorder{}
	p := NewProcessor(client, &fakeResolver{err: errors.New("asset server down")}, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "delivery", func() bool { return len(rec.ids()) == 1 })

	rec.mu.Lock()
	m := rec.delivered[0]
	rec.mu.Unlock()
	if m.IconPath != "" {
		t.Fatalf("IconPath = %q, want empty on resolve failure", m.IconPath)
	}
	if _, adv := client.stats(); len(adv) != 1 {
		t.Fatal("batch must still be acknowledged")
	}
}

func TestIconPathAttachedWhenResolved(t *testing.T) {
	t.Parallel()
	client := &scriptClient{batches: [][]api.Message{{
		{ID: 9, Text: "hi", Icon: "app-1"},
	}}}
	rec := &recorder{}
	p := NewProcessor(client, &fakeResolver{}, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	p.Trigger()
	waitFor(t, "delivery", func() bool { return len(rec.ids()) == 1 })

	rec.mu.Lock()
	m := rec.delivered[0]
	rec.mu.Unlock()
	if m.IconPath != "/cache/icons/app-1.png" {
		t.Fatalf("IconPath = %q", m.IconPath)
	}
}

func TestTriggersCoalesceWhilePending(t *testing.T) {
	t.Parallel()
	client := &scriptClient{}
	rec := &recorder{}
	p := NewProcessor(client, nil, rec.deliver, 0, nil, logx.Nop())

	// Worker not running yet: every trigger lands on the same pending slot.
	for i := 0; i < 5; i++ {
		p.Trigger()
	}
	startProcessor(t, p)

	waitFor(t, "fetch", func() bool {
		fetches, _ := client.stats()
		return fetches >= 1
	})
	time.Sleep(30 * time.Millisecond)

	if fetches, _ := client.stats(); fetches != 1 {
		t.Fatalf("fetches = %d, want coalesced single cycle", fetches)
	}
}

func TestConcurrentTriggersNeverOverlapCycles(t *testing.T) {
	t.Parallel()
	batches := make([][]api.Message, 50)
	for i := range batches {
		batches[i] = []api.Message{{ID: int64(i + 1), Text: "m"}}
	}
	client := &scriptClient{batches: batches}
	rec := &recorder{}
	p := NewProcessor(client, nil, rec.deliver, 0, nil, logx.Nop())
	startProcessor(t, p)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				p.Trigger()
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	waitFor(t, "some cycles", func() bool {
		fetches, _ := client.stats()
		return fetches >= 5
	})
	if client.overlap.Load() {
		t.Fatal("observed overlapping fetch-acknowledge windows")
	}
}
