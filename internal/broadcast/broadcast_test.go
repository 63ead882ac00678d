package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/walletbot/internal/apperr"
)

type staticRecipients []int64

func (s staticRecipients) ListUserIDs(context.Context) ([]int64, error) { return s, nil }

type fakeDeliverer struct {
	fail    map[int64]bool
	mu      sync.Mutex
	got     map[int64]string
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeDeliverer) Deliver(_ context.Context, userID int64, text string) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got == nil {
		f.got = map[int64]string{}
	}
	f.got[userID] = text
	if f.fail[userID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	return nil
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	ids := staticRecipients{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	d := &fakeDeliverer{fail: map[int64]bool{3: true, 6: true, 9: true}}
	e := New(Options{Recipients: ids, Deliverer: d, Workers: 3, PerSecond: -1})

	rep, err := e.Broadcast(context.Background(), "hello <all>", 1)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if rep != (Report{Attempted: 10, Succeeded: 7, Failed: 3}) {
		t.Fatalf("report = %+v", rep)
	}
	if len(d.got) != 10 {
		t.Fatalf("delivered to %d users, want 10", len(d.got))
	}
	if d.got[5] != "hello &lt;all&gt;" {
		t.Fatalf("text = %q", d.got[5])
	}
	if d.maxSeen.Load() > 3 {
		t.Fatalf("concurrency %d exceeds worker bound", d.maxSeen.Load())
	}
}

func TestBroadcastNoRecipients(t *testing.T) {
	e := New(Options{Recipients: staticRecipients{}, Deliverer: &fakeDeliverer{}})
	rep, err := e.Broadcast(context.Background(), "x", 1)
	if err != nil || rep != (Report{}) {
		t.Fatalf("report = %+v, err = %v", rep, err)
	}
}

type summarySink struct {
	ch chan string
}

func (s summarySink) Deliver(_ context.Context, _ int64, text string) error {
	s.ch <- text
	return nil
}

func TestLaunchSendsSummary(t *testing.T) {
	sink := summarySink{ch: make(chan string, 1)}
	e := New(Options{
		Recipients: staticRecipients{1, 2},
		Deliverer:  &fakeDeliverer{fail: map[int64]bool{2: true}},
		Summary:    sink,
		PerSecond:  -1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Launch(ctx, "news", 1); err != nil {
		t.Fatalf("launch: %v", err)
	}
	cancel()
	select {
	case text := <-sink.ch:
		if !strings.Contains(text, "Attempted: 2") || !strings.Contains(text, "Failed: 1") {
			t.Fatalf("summary = %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no summary")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Launch(context.Background(), "late", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("launch after close: %v", err)
	}
}

func TestLaunchRejectsEmptyMessage(t *testing.T) {
	e := New(Options{Recipients: staticRecipients{1}, Deliverer: &fakeDeliverer{}})
	if err := e.Launch(context.Background(), "   ", 1); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
}
