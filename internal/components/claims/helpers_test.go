package claims

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/notify"
	"github.com/FlowBondTech/flowb-sub000/internal/components/payment"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/memory"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/testutil"
)

type fakeVerifier struct {
	calls  atomic.Int32
	result func(txHash string, minAmount decimal.Decimal) payment.Result
}

func (f *fakeVerifier) Verify(_ context.Context, txHash string, minAmount decimal.Decimal) payment.Result {
	f.calls.Add(1)
	return f.result(txHash, minAmount)
}

func verifiedAt(amount string) func(string, decimal.Decimal) payment.Result {
	return func(_ string, minAmount decimal.Decimal) payment.Result {
		a := decimal.RequireFromString(amount)
		if a.LessThan(minAmount) {
			return payment.Result{Status: payment.StatusRejected, Amount: a, Reason: payment.ReasonBelowMinimum}
		}
		return payment.Result{Status: payment.StatusVerified, Amount: a}
	}
}

func retryWith(reason string) func(string, decimal.Decimal) payment.Result {
	return func(string, decimal.Decimal) payment.Result {
		return payment.Result{Status: payment.StatusRetry, Reason: reason, Err: errors.New(reason)}
	}
}

type recordingLedger struct {
	mu     sync.Mutex
	awards []points.Award
	seen   map[string]bool
}

func (l *recordingLedger) Award(_ context.Context, a points.Award) (points.AwardResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	if a.DedupKey != "" && l.seen[a.DedupKey] {
		return points.AwardResult{}, nil
	}
	l.seen[a.DedupKey] = true
	l.awards = append(l.awards, a)
	return points.AwardResult{Awarded: true, Points: 1, Total: int64(len(l.awards))}, nil
}

func (l *recordingLedger) count(action string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.awards {
		if a.Action == action {
			n++
		}
	}
	return n
}

type sent struct {
	kind    notify.Kind
	subject string
	payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(_ context.Context, kind notify.Kind, subject string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind, subject, payload})
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

// testClock is safe for the confirmer's goroutines.
type testClock struct{ unix atomic.Int64 }

func newClock(unix int64) *testClock {
	c := &testClock{}
	c.unix.Store(unix)
	return c
}

func (c *testClock) now() time.Time          { return time.Unix(c.unix.Load(), 0) }
func (c *testClock) advance(d time.Duration) { c.unix.Add(int64(d / time.Second)) }

type confirmerFixture struct {
	store    *memory.Driver
	verifier *fakeVerifier
	ledger   *recordingLedger
	notifier *recordingNotifier
	clock    *testClock
	c        *Confirmer
}

func newConfirmerFixture(t *testing.T, result func(string, decimal.Decimal) payment.Result, mutate ...func(*ConfirmerOptions)) *confirmerFixture {
	t.Helper()
	f := &confirmerFixture{
		store:    memory.New(),
		verifier: &fakeVerifier{result: result},
		ledger:   &recordingLedger{},
		notifier: &recordingNotifier{},
		clock:    newClock(testutil.Base),
	}
	ctx := context.Background()
	if err := f.store.UpsertLocation(ctx, testutil.Location("loc-1")); err != nil {
		t.Fatal(err)
	}
	opts := ConfirmerOptions{
		Workers:      2,
		QueueSize:    8,
		MaxAttempts:  3,
		Deadline:     30 * time.Minute,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
		Ledger:       f.ledger,
		Notifier:     f.notifier,
		Clock:        f.clock.now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.c = NewConfirmer(f.store, f.verifier, opts)
	t.Cleanup(func() { _ = f.c.Close() })
	return f
}

func (f *confirmerFixture) seed(t *testing.T, id, tx string) {
	t.Helper()
	if err := f.store.CreateSponsorship(context.Background(), testutil.PendingSponsorship(id, tx, "loc-1")); err != nil {
		t.Fatal(err)
	}
}
