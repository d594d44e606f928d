package concat

import (
	"WaRelay/module/message"
	"WaRelay/tools/errs"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testSession = "sess-1"
	testSender  = "5511999990000@s.whatsapp.net"
)

var testBase = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testBase} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	eng   *Engine
	store *MemStore
	sink  *message.MemStore
	clock *fakeClock
	seq   int64
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), sink: message.NewMemStore()}
	h.store = NewMemStore(h.clock.Now)
	cfg := DefaultConfig()
	cfg.Location = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithIDFunc(func() string { return "c" + strconv.FormatInt(atomic.AddInt64(&h.seq, 1), 10) }),
	}
	eng, err := NewEngine(h.store, h.sink, cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.eng = eng
	return h
}

// send 以当前时钟为时间戳入站一条消息
func (h *harness) send(t *testing.T, id, typ, content string) {
	t.Helper()
	msg := Message{ID: id, Content: content, Type: typ, Timestamp: h.clock.Now()}
	if err := h.eng.Ingest(context.Background(), testSender, testSession, msg); err != nil {
		t.Fatalf("Ingest(%s): %v", id, err)
	}
}

func (h *harness) persisted(t *testing.T) []*message.Message {
	t.Helper()
	list, err := h.sink.ListBySession(context.Background(), testSession)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func (h *harness) pending(t *testing.T) *Block {
	t.Helper()
	b, err := h.eng.Pending(context.Background(), testSession, testSender)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func messageIDs(b *Block) []string {
	out := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestDecide(t *testing.T) {
	cfg := DefaultConfig()
	now := testBase
	mk := func(n int, typ string, last time.Time) *Block {
		b := &Block{SessionID: testSession, Sender: testSender, MessageType: typ, LastActivityAt: last}
		for i := 0; i < n; i++ {
			b.Messages = append(b.Messages, Message{ID: strconv.Itoa(i), Type: typ})
		}
		b.Count = n
		return b
	}
	tests := []struct {
		name   string
		block  *Block
		typ    string
		concat bool
		reason Reason
	}{
		{"no block", nil, "text", false, ReasonNone},
		{"same type under limit", mk(3, "text", now.Add(-time.Second)), "text", true, ReasonNone},
		{"full", mk(10, "text", now), "text", false, ReasonLimit},
		{"type change", mk(2, "text", now), "audio", false, ReasonTypeChange},
		{"idle exactly window", mk(2, "text", now.Add(-cfg.IdleWindow)), "text", false, ReasonIdle},
		{"idle wins over full", mk(10, "text", now.Add(-2 * cfg.IdleWindow)), "audio", false, ReasonIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(tt.block, tt.typ, now, cfg)
			if d.Concatenate != tt.concat || d.Reason != tt.reason {
				t.Fatalf("decide = %+v, want concat=%v reason=%q", d, tt.concat, tt.reason)
			}
			if tt.block != nil && d.BlockID != BlockKey(testSession, testSender) {
				t.Errorf("BlockID = %q", d.BlockID)
			}
		})
	}
}

func TestShouldConcatenateIsReadOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	for i := 0; i < 3; i++ {
		d, err := h.eng.ShouldConcatenate(context.Background(), testSender, testSession, "text")
		if err != nil || !d.Concatenate {
			t.Fatalf("decision = %+v err=%v", d, err)
		}
	}
	if b := h.pending(t); b == nil || b.Count != 1 {
		t.Fatalf("block changed: %+v", b)
	}
}

func TestNoPrematureFinalize(t *testing.T) {
	h := newHarness(t, nil)
	var want []string
	for i := 1; i <= 9; i++ {
		id := "m" + strconv.Itoa(i)
		want = append(want, id)
		h.send(t, id, "text", "part "+strconv.Itoa(i))
		h.clock.Advance(5 * time.Second)
	}
	if n := len(h.persisted(t)); n != 0 {
		t.Fatalf("persisted %d rows before finalize", n)
	}
	b := h.pending(t)
	if b == nil {
		t.Fatal("block missing")
	}
	if got := strings.Join(messageIDs(b), ","); got != strings.Join(want, ",") {
		t.Fatalf("order = %s", got)
	}
	if b.Count != 9 || b.CreatedAt != testBase {
		t.Errorf("count=%d createdAt=%v", b.Count, b.CreatedAt)
	}
}

func TestLimitForcesFinalize(t *testing.T) {
	h := newHarness(t, nil)
	for i := 1; i <= 11; i++ {
		h.send(t, "m"+strconv.Itoa(i), "text", "x")
	}
	rows := h.persisted(t)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Metadata.OriginalMessagesCount != 10 {
		t.Errorf("originalMessagesCount = %d", rows[0].Metadata.OriginalMessagesCount)
	}
	if ids := rows[0].Metadata.MessageIDs; ids[0] != "m1" || ids[9] != "m10" {
		t.Errorf("ids = %v", ids)
	}
	b := h.pending(t)
	if b == nil || b.Count != 1 || b.FirstID() != "m11" {
		t.Fatalf("new block = %+v", b)
	}
}

func TestSingleMessageDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "only")
	if err := h.eng.Flush(context.Background(), testSession, testSender); err != nil {
		t.Fatal(err)
	}
	if n := len(h.persisted(t)); n != 0 {
		t.Fatalf("persisted %d rows", n)
	}
	if b := h.pending(t); b != nil {
		t.Fatalf("block not removed: %+v", b)
	}
}

func TestDiscardHookReceivesSingleMessage(t *testing.T) {
	var got []string
	h := newHarness(t, nil, WithDiscardHook(func(_ context.Context, b *Block) error {
		got = append(got, b.FirstID())
		return nil
	}))
	h.send(t, "m1", "text", "only")
	if err := h.eng.Flush(context.Background(), testSession, testSender); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "m1" {
		t.Fatalf("hook calls = %v", got)
	}
}

func TestDiscardHookFailureKeepsBlock(t *testing.T) {
	h := newHarness(t, nil, WithDiscardHook(func(context.Context, *Block) error {
		return errors.New("db down")
	}))
	h.send(t, "m1", "text", "only")
	err := h.eng.Flush(context.Background(), testSession, testSender)
	if !errors.Is(err, &errs.ErrPersist) {
		t.Fatalf("err = %v", err)
	}
	if h.pending(t) == nil {
		t.Fatal("block should be kept for retry")
	}
}

func TestFinalizeTwiceIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	snap := h.pending(t)
	key := BlockKey(testSession, testSender)
	ctx := context.Background()

	if err := h.eng.FinalizeBlock(ctx, key, snap); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.FinalizeBlock(ctx, key, snap); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if n := len(h.persisted(t)); n != 1 {
		t.Fatalf("rows = %d", n)
	}
	if err := h.eng.FinalizeBlock(ctx, key, nil); err != nil {
		t.Fatalf("nil snapshot: %v", err)
	}
}

func TestFinalizeSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	key := BlockKey(testSession, testSender)
	ctx := context.Background()
	if ok, _ := h.store.TryLock(ctx, key, "other", time.Minute); !ok {
		t.Fatal("lock not acquired")
	}
	if err := h.eng.Flush(ctx, testSession, testSender); err != nil {
		t.Fatal(err)
	}
	if n := len(h.persisted(t)); n != 0 {
		t.Fatalf("rows = %d", n)
	}
	if h.pending(t) == nil {
		t.Fatal("block should remain")
	}
}

func TestTTLHeadroomAfterFirstAppend(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	d, err := h.store.TTL(context.Background(), BlockKey(testSession, testSender))
	if err != nil {
		t.Fatal(err)
	}
	cfg := h.eng.Config()
	if d <= cfg.IdleWindow || d > cfg.TTLCeiling {
		t.Fatalf("ttl = %v, want (%v, %v]", d, cfg.IdleWindow, cfg.TTLCeiling)
	}
}

func TestThreeQuickTextsBecomeOneMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "Oi")
	h.clock.Advance(700 * time.Millisecond)
	h.send(t, "m2", "text", "Tudo bem?")
	h.clock.Advance(700 * time.Millisecond)
	h.send(t, "m3", "text", "Quero fazer um pedido")
	h.clock.Advance(61 * time.Second)

	st, err := h.eng.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Finalized != 1 {
		t.Fatalf("stats = %+v", st)
	}
	rows := h.persisted(t)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	m := rows[0]
	want := "[10:00] Oi\n[10:00] Tudo bem?\n[10:00] Quero fazer um pedido"
	if m.Content != want {
		t.Errorf("content = %q", m.Content)
	}
	if m.Type != message.TypeConcatenated || !m.Metadata.Concatenated {
		t.Errorf("type=%q meta=%+v", m.Type, m.Metadata)
	}
	if m.Metadata.OriginalMessagesCount != 3 {
		t.Errorf("originalMessagesCount = %d", m.Metadata.OriginalMessagesCount)
	}
	if !m.Metadata.FirstMessageAt.Equal(testBase) || !m.Metadata.LastMessageAt.Equal(testBase.Add(1400*time.Millisecond)) {
		t.Errorf("first=%v last=%v", m.Metadata.FirstMessageAt, m.Metadata.LastMessageAt)
	}
	if m.Metadata.OriginalType != "text" {
		t.Errorf("originalType = %q", m.Metadata.OriginalType)
	}
}

func TestManualFlushThenFreshBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	if err := h.eng.Flush(context.Background(), testSession, testSender); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(61 * time.Second)
	h.send(t, "m3", "text", "c")

	rows := h.persisted(t)
	if len(rows) != 1 || rows[0].Metadata.OriginalMessagesCount != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	b := h.pending(t)
	if b == nil || b.Count != 1 || b.FirstID() != "m3" {
		t.Fatalf("fresh block = %+v", b)
	}
}

func TestTypeChangeFinalizesPriorBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "Oi")
	h.send(t, "m2", "text", "Tudo bem?")
	h.send(t, "a1", "audio", "https://cdn/audio.ogg")

	rows := h.persisted(t)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if strings.Contains(rows[0].Content, "audio.ogg") {
		t.Errorf("audio leaked into text block: %q", rows[0].Content)
	}
	if rows[0].Content != "[10:00] Oi\n[10:00] Tudo bem?" {
		t.Errorf("content = %q", rows[0].Content)
	}
	b := h.pending(t)
	if b == nil || b.MessageType != "audio" || b.Count != 1 {
		t.Fatalf("audio block = %+v", b)
	}
}

func TestMixedTypesWhenSameTypeDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SameTypeOnly = false })
	h.send(t, "m1", "text", "look")
	h.send(t, "i1", "image", "photo")
	if n := len(h.persisted(t)); n != 0 {
		t.Fatalf("rows = %d", n)
	}
	b := h.pending(t)
	if b == nil || b.Count != 2 || b.MessageType != "text" {
		t.Fatalf("block = %+v", b)
	}
}

func TestStaleBlockFinalizedOnNextMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	h.clock.Advance(60 * time.Second)
	h.send(t, "m3", "text", "c")

	if rows := h.persisted(t); len(rows) != 1 || rows[0].Metadata.OriginalMessagesCount != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if b := h.pending(t); b == nil || b.FirstID() != "m3" {
		t.Fatalf("block = %+v", b)
	}
}

func TestPersistFailureKeepsBlockForRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	h.sink.FailNext(errors.New("pg down"))

	ctx := context.Background()
	if err := h.eng.Flush(ctx, testSession, testSender); !errors.Is(err, &errs.ErrPersist) {
		t.Fatalf("err = %v", err)
	}
	if b := h.pending(t); b == nil || b.Count != 2 {
		t.Fatalf("block = %+v", b)
	}
	if err := h.eng.Flush(ctx, testSession, testSender); err != nil {
		t.Fatal(err)
	}
	if n := len(h.persisted(t)); n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestClearDropsWithoutPersist(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	ok, err := h.eng.Clear(context.Background(), testSession, testSender)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if h.pending(t) != nil || len(h.persisted(t)) != 0 {
		t.Fatal("clear left state behind")
	}
	if ok, _ := h.eng.Clear(context.Background(), testSession, testSender); ok {
		t.Fatal("second clear reported a block")
	}
}

// refusingStore 前 n 次 Append 返回 BlockFull，模拟决策与追加之间的竞争
type refusingStore struct {
	BlockStore
	left int
}

func (s *refusingStore) Append(ctx context.Context, sessionID, sender string, msg Message, opt AppendOptions) (AppendResult, error) {
	if s.left > 0 {
		s.left--
		return AppendResult{}, errs.ErrBlockFull.WrapMsg("injected")
	}
	return s.BlockStore.Append(ctx, sessionID, sender, msg, opt)
}

func TestIngestRetriesOnConcurrentRefusal(t *testing.T) {
	clock := newFakeClock()
	store := &refusingStore{BlockStore: NewMemStore(clock.Now), left: 1}
	eng, err := NewEngine(store, message.NewMemStore(), DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	msg := Message{ID: "m1", Type: "text", Content: "a", Timestamp: clock.Now()}
	if err := eng.Ingest(context.Background(), testSender, testSession, msg); err != nil {
		t.Fatal(err)
	}

	store.left = maxIngestAttempts
	msg.ID = "m2"
	err = eng.Ingest(context.Background(), testSender, testSession, msg)
	if !errors.Is(err, &errs.ErrBlockFull) {
		t.Fatalf("err = %v", err)
	}
}

func TestConcurrentIngestKeepsEveryMessage(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxMessages = 100 })
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := Message{ID: "m" + strconv.Itoa(i), Type: "text", Content: "x", Timestamp: h.clock.Now()}
			if err := h.eng.Ingest(context.Background(), testSender, testSession, msg); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if b := h.pending(t); b == nil || b.Count != 50 {
		t.Fatalf("block = %+v", b)
	}
}

func TestMetricsCountFinalizeReasons(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, nil, WithMetrics(m))
	h.send(t, "m1", "text", "a")
	h.send(t, "m2", "text", "b")
	h.send(t, "a1", "audio", "c")
	if got := testutil.ToFloat64(m.finalized.WithLabelValues(string(ReasonTypeChange))); got != 1 {
		t.Errorf("type_change = %v", got)
	}
	if got := testutil.ToFloat64(m.opened); got != 2 {
		t.Errorf("opened = %v", got)
	}
	if got := testutil.ToFloat64(m.appended); got != 3 {
		t.Errorf("appended = %v", got)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	h := newHarness(t, nil)
	bad := DefaultConfig()
	bad.TTLCeiling = bad.IdleWindow
	if err := h.eng.UpdateConfig(bad); !errors.Is(err, &errs.ErrArgs) {
		t.Fatalf("err = %v", err)
	}
	if h.eng.Config().TTLCeiling != DefaultTTLCeiling {
		t.Fatal("invalid config applied")
	}

	good := DefaultConfig()
	good.MaxMessages = 3
	if err := h.eng.UpdateConfig(good); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 4; i++ {
		h.send(t, "m"+strconv.Itoa(i), "text", "x")
	}
	if rows := h.persisted(t); len(rows) != 1 || rows[0].Metadata.OriginalMessagesCount != 3 {
		t.Fatalf("rows = %+v", rows)
	}
}
