package concat

import (
	"WaRelay/module/message"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweepFinalizesIdleBlocks(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	h.clock.Advance(61 * time.Second)

	st, err := h.eng.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Candidates != 1 || st.Finalized != 1 || st.Errors != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if n := len(h.persisted(t)); n != 1 {
		t.Fatalf("rows = %d", n)
	}
	if h.pending(t) != nil {
		t.Fatal("block not removed")
	}

	// 第二轮没有候选
	st, _ = h.eng.Sweep(context.Background())
	if st.Candidates != 0 {
		t.Fatalf("second sweep stats = %+v", st)
	}
}

func TestSweepLeavesActiveBlocks(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.clock.Advance(30 * time.Second)

	st, err := h.eng.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Candidates != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if h.pending(t) == nil {
		t.Fatal("active block was swept")
	}
}

func TestSweepDiscardsSingleMessageBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.clock.Advance(65 * time.Second)

	if _, err := h.eng.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(h.persisted(t)); n != 0 {
		t.Fatalf("rows = %d", n)
	}
	if h.pending(t) != nil {
		t.Fatal("block not removed")
	}
}

func TestSweepCleansIndexAfterNativeExpiry(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	h.clock.Advance(70 * time.Second)

	st, err := h.eng.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Expired != 1 || st.Finalized != 0 {
		t.Fatalf("stats = %+v", st)
	}
	keys, _ := h.store.IdleKeys(context.Background(), h.clock.Now(), 10)
	if len(keys) != 0 {
		t.Fatalf("index still holds %v", keys)
	}
}

// failingGetStore 指定 key 读取失败，其余正常
type failingGetStore struct {
	BlockStore
	bad string
}

func (s *failingGetStore) Get(ctx context.Context, key string) (*Block, error) {
	if key == s.bad {
		return nil, errors.New("boom")
	}
	return s.BlockStore.Get(ctx, key)
}

func TestSweepContinuesPastFailingBlock(t *testing.T) {
	clock := newFakeClock()
	mem := NewMemStore(clock.Now)
	sink := message.NewMemStore()
	store := &failingGetStore{BlockStore: mem, bad: BlockKey("s-bad", testSender)}
	eng, err := NewEngine(store, sink, DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	opt := AppendOptions{TTL: DefaultTTLCeiling, MaxMessages: DefaultMaxMessages, SameType: true}
	for _, sess := range []string{"s-bad", testSession} {
		for _, id := range []string{"1", "2"} {
			msg := Message{ID: sess + id, Type: "text", Content: id, Timestamp: clock.Now()}
			if _, err := mem.Append(ctx, sess, testSender, msg, opt); err != nil {
				t.Fatal(err)
			}
		}
	}
	clock.Advance(61 * time.Second)

	st, err := eng.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Errors != 1 || st.Finalized != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if n := sink.Count(); n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestSweepBatchLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SweepBatch = 2 })
	ctx := context.Background()
	opt := AppendOptions{TTL: DefaultTTLCeiling, MaxMessages: DefaultMaxMessages, SameType: true}
	for _, sess := range []string{"a", "b", "c"} {
		for _, id := range []string{"1", "2"} {
			msg := Message{ID: sess + id, Type: "text", Timestamp: h.clock.Now()}
			if _, err := h.store.Append(ctx, sess, testSender, msg, opt); err != nil {
				t.Fatal(err)
			}
		}
	}
	h.clock.Advance(61 * time.Second)

	st, _ := h.eng.Sweep(ctx)
	if st.Candidates != 2 {
		t.Fatalf("first sweep = %+v", st)
	}
	st, _ = h.eng.Sweep(ctx)
	if st.Candidates != 1 {
		t.Fatalf("second sweep = %+v", st)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.RunSweeper(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
