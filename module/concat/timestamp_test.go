package concat

import (
	"WaRelay/module/message"
	"context"
	"strconv"
	"testing"
	"time"
)

// ingestAt 以 now+offset 作为消息时间戳入站
func (h *harness) ingestAt(t *testing.T, id string, offset time.Duration) {
	t.Helper()
	msg := Message{ID: id, Content: id, Type: "text", Timestamp: h.clock.Now().Add(offset)}
	if err := h.eng.Ingest(context.Background(), testSender, testSession, msg); err != nil {
		t.Fatalf("Ingest(%s): %v", id, err)
	}
}

// sweepFor 每 step 推进时钟并 sweep 一次，累计结果
func sweepFor(t *testing.T, eng *Engine, advance func(time.Duration), total, step time.Duration) SweepStats {
	t.Helper()
	var sum SweepStats
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		advance(step)
		st, err := eng.Sweep(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		sum.Finalized += st.Finalized
		sum.Expired += st.Expired
		sum.Errors += st.Errors
	}
	return sum
}

func TestSkewedTimestampsAreNotLost(t *testing.T) {
	tests := []struct {
		name    string
		offsets []time.Duration // 相对服务端时钟
		gap     time.Duration   // 两条消息之间推进的时钟
	}{
		{"in sync", []time.Duration{0, 0}, time.Second},
		{"future 10s", []time.Duration{10 * time.Second, 10 * time.Second}, time.Second},
		{"future 1h", []time.Duration{time.Hour, time.Hour}, time.Second},
		{"past 30s", []time.Duration{-30 * time.Second, -30 * time.Second}, time.Second},
		{"past beyond window", []time.Duration{-5 * time.Minute, -5 * time.Minute}, time.Second},
		{"backlog burst", []time.Duration{-10 * time.Minute, -10*time.Minute + time.Second}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			for i, off := range tc.offsets {
				if i > 0 {
					h.clock.Advance(tc.gap)
				}
				h.ingestAt(t, "m"+strconv.Itoa(i+1), off)
			}
			if b := h.pending(t); b != nil && b.LastActivityAt.After(h.clock.Now()) {
				t.Fatalf("lastActivityAt %v ahead of clock %v", b.LastActivityAt, h.clock.Now())
			}

			st := sweepFor(t, h.eng, h.clock.Advance, 3*time.Minute, 5*time.Second)
			if st.Expired != 0 || st.Errors != 0 {
				t.Fatalf("stats = %+v", st)
			}
			rows := h.persisted(t)
			if len(rows) != 1 {
				t.Fatalf("rows = %d, want 1", len(rows))
			}
			if got := rows[0].Metadata.OriginalMessagesCount; got != len(tc.offsets) {
				t.Fatalf("count = %d", got)
			}
			if h.pending(t) != nil {
				t.Fatal("block left behind")
			}
		})
	}
}

func TestFutureTimestampKeepsOriginalForRendering(t *testing.T) {
	h := newHarness(t, nil)
	skew := 2 * time.Hour
	h.ingestAt(t, "m1", skew)
	h.ingestAt(t, "m2", skew)

	b := h.pending(t)
	if !b.LastActivityAt.Equal(h.clock.Now()) {
		t.Fatalf("lastActivityAt = %v", b.LastActivityAt)
	}
	if !b.CreatedAt.Equal(testBase.Add(skew)) {
		t.Fatalf("createdAt = %v", b.CreatedAt)
	}

	sweepFor(t, h.eng, h.clock.Advance, 65*time.Second, 5*time.Second)
	rows := h.persisted(t)
	if len(rows) != 1 || rows[0].Content != "[12:00] m1\n[12:00] m2" {
		t.Fatalf("rows = %+v", rows)
	}
	if !rows[0].Metadata.LastMessageAt.Equal(testBase.Add(skew)) {
		t.Errorf("lastMessageAt = %v", rows[0].Metadata.LastMessageAt)
	}
}

func TestFutureTimestampOnRedisSurvivesUntilSweep(t *testing.T) {
	s, mr := newRedisStore(t)
	clock := newFakeClock()
	sink := message.NewMemStore()
	eng, err := NewEngine(s, sink, DefaultConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, id := range []string{"m1", "m2"} {
		msg := Message{ID: id, Content: id, Type: "text", Timestamp: clock.Now().Add(10 * time.Second)}
		if err := eng.Ingest(ctx, testSender, testSession, msg); err != nil {
			t.Fatal(err)
		}
	}

	advance := func(d time.Duration) {
		clock.Advance(d)
		mr.FastForward(d)
	}
	st := sweepFor(t, eng, advance, 2*time.Minute, 5*time.Second)
	if st.Finalized != 1 || st.Expired != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if sink.Count() != 1 {
		t.Fatalf("rows = %d", sink.Count())
	}
}

func TestActivityAt(t *testing.T) {
	now := testBase
	if got := activityAt(now.Add(time.Minute), now); !got.Equal(now) {
		t.Errorf("future = %v", got)
	}
	past := now.Add(-time.Minute)
	if got := activityAt(past, now); !got.Equal(past) {
		t.Errorf("past = %v", got)
	}
}
