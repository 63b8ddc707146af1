package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/notify"
	"github.com/FlowBondTech/flowb-sub000/internal/components/payment"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// PaymentVerifier is the slice of payment.Verifier the confirmer uses.
type PaymentVerifier interface {
	Verify(ctx context.Context, txHash string, minAmount decimal.Decimal) payment.Result
}

// ConfirmerOptions tunes the confirmation pipeline.
type ConfirmerOptions struct {
	Workers   int
	QueueSize int
	// MaxAttempts bounds the attempts for one enqueue. A record still
	// pending afterwards waits for the sweeper.
	MaxAttempts int
	// Deadline is how long a missing receipt is tolerated, measured from
	// the record's creation.
	Deadline      time.Duration
	SweepInterval time.Duration
	RetryInitial  time.Duration
	RetryMax      time.Duration

	Ledger   points.Ledger
	Notifier notify.Dispatcher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

func (o *ConfirmerOptions) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Minute
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 5 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Confirmer drains a queue of pending sponsorship ids, checks each on
// chain, and applies the terminal transition through the store.
type Confirmer struct {
	store    store.SponsorshipStore
	verifier PaymentVerifier
	opts     ConfirmerOptions
	logger   *slog.Logger

	queue    chan string
	inflight sync.Map // id -> *retryState

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewConfirmer builds a Confirmer. Start launches its goroutines.
func NewConfirmer(s store.SponsorshipStore, v PaymentVerifier, opts ConfirmerOptions) *Confirmer {
	opts.applyDefaults()
	return &Confirmer{
		store:    s,
		verifier: v,
		opts:     opts,
		logger:   logutil.NoopIfNil(opts.Logger),
		queue:    make(chan string, opts.QueueSize),
	}
}

// Start runs the workers and, when configured, the sweeper until ctx is
// cancelled or Close is called.
func (c *Confirmer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	if c.opts.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper(ctx)
	}
	c.logger.Info("payment confirmer started", "workers", c.opts.Workers, "queue_size", c.opts.QueueSize,
		"sweep_interval", c.opts.SweepInterval)
}

// Close stops the goroutines and waits for in-progress attempts.
func (c *Confirmer) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

// Enqueue schedules id for confirmation without blocking. An id already
// queued or in progress is not queued twice. It reports whether id was
// accepted; a full queue leaves the record to the sweeper.
func (c *Confirmer) Enqueue(id string) bool {
	if _, loaded := c.inflight.LoadOrStore(id, c.newRetryState()); loaded {
		return false
	}
	select {
	case c.queue <- id:
		c.opts.Metrics.SetQueueDepth(len(c.queue))
		return true
	default:
		c.inflight.Delete(id)
		c.logger.Warn("confirmation queue full, leaving sponsorship to the sweeper", "sponsorship_id", id)
		return false
	}
}

func (c *Confirmer) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.opts.Metrics.SetQueueDepth(len(c.queue))
			c.process(ctx, id)
		}
	}
}

// retryState follows one id between attempts. Only one worker or timer
// holds an id at a time.
type retryState struct {
	b        *backoff.ExponentialBackOff
	attempts int
}

func (c *Confirmer) newRetryState() *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxInterval = c.opts.RetryMax
	b.Reset()
	return &retryState{b: b}
}

// process makes one attempt. While the chain has no definitive answer the
// id is re-queued after an exponential delay, so a waiting record never
// holds a worker.
func (c *Confirmer) process(ctx context.Context, id string) {
	_, res, err := c.ConfirmOnce(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.inflight.Delete(id)
		c.logger.Warn("queued sponsorship not found", "sponsorship_id", id)
		return
	case err == nil && res.Status != payment.StatusRetry:
		c.inflight.Delete(id)
		return
	case ctx.Err() != nil:
		c.inflight.Delete(id)
		return
	}

	v, _ := c.inflight.LoadOrStore(id, c.newRetryState())
	st := v.(*retryState)
	st.attempts++
	if st.attempts >= c.opts.MaxAttempts {
		c.inflight.Delete(id)
		c.logger.Info("sponsorship left pending", "sponsorship_id", id, "attempts", st.attempts,
			"reason", res.Reason, "error", errors.Join(err, res.Err))
		return
	}
	time.AfterFunc(st.b.NextBackOff(), func() { c.requeue(ctx, id) })
}

func (c *Confirmer) requeue(ctx context.Context, id string) {
	if ctx.Err() != nil {
		c.inflight.Delete(id)
		return
	}
	select {
	case c.queue <- id:
		c.opts.Metrics.SetQueueDepth(len(c.queue))
	default:
		c.inflight.Delete(id)
		c.logger.Warn("confirmation queue full, leaving sponsorship to the sweeper", "sponsorship_id", id)
	}
}

// ConfirmOnce makes one verification attempt for sponsorship id and, on a
// definitive result, applies the terminal transition. It returns the record
// as stored afterwards. A terminal record is returned unchanged.
func (c *Confirmer) ConfirmOnce(ctx context.Context, id string) (*store.Sponsorship, payment.Result, error) {
	s, err := c.store.GetSponsorship(ctx, id)
	if err != nil {
		return nil, payment.Result{}, err
	}
	if s.Status.Terminal() {
		return s, resultOf(s), nil
	}

	attempts, err := c.store.IncrementSponsorshipAttempts(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// Finalized concurrently.
		s, err = c.store.GetSponsorship(ctx, id)
		if err != nil {
			return nil, payment.Result{}, err
		}
		return s, resultOf(s), nil
	}
	if err != nil {
		return nil, payment.Result{}, err
	}
	s.Attempts = attempts

	res := c.verifier.Verify(ctx, s.TxHash, s.AmountClaimed)
	if res.Status == payment.StatusRetry {
		age := c.opts.Clock().Sub(time.Unix(s.CreatedAt, 0))
		if res.Reason != payment.ReasonTxNotFound || age < c.opts.Deadline {
			c.opts.Metrics.ObserveConfirmation(string(payment.StatusRetry))
			c.logger.Debug("sponsorship not confirmed yet", "sponsorship_id", id, "attempt", attempts, "reason", res.Reason)
			return s, res, nil
		}
		res = payment.Result{Status: payment.StatusRejected, Reason: payment.ReasonTxNotFound}
	}

	if err := c.apply(ctx, s, res); err != nil {
		return nil, res, err
	}
	s, err = c.store.GetSponsorship(ctx, id)
	if err != nil {
		return nil, res, err
	}
	return s, res, nil
}

// apply performs the conditional transition. Side effects run only for
// the caller whose transition took effect.
func (c *Confirmer) apply(ctx context.Context, s *store.Sponsorship, res payment.Result) error {
	status := store.StatusRejected
	if res.Status == payment.StatusVerified {
		status = store.StatusVerified
	}
	applied, err := c.store.FinalizeSponsorship(ctx, store.Finalization{
		ID:     s.ID,
		Status: status,
		Amount: res.Amount,
		Reason: res.Reason,
		At:     c.opts.Clock().Unix(),
	})
	if err != nil {
		return fmt.Errorf("finalize sponsorship %s: %w", s.ID, err)
	}
	if !applied {
		c.logger.Debug("sponsorship already finalized", "sponsorship_id", s.ID)
		return nil
	}

	c.opts.Metrics.ObserveConfirmation(string(status))
	c.logger.Info("sponsorship finalized", "sponsorship_id", s.ID, "status", status,
		"amount", res.Amount.String(), "reason", res.Reason)

	if status == store.StatusVerified {
		c.awardSponsor(ctx, s, res.Amount)
		c.notify(ctx, notify.KindSponsorshipVerified, s, map[string]any{"amount": res.Amount.String()})
	} else {
		c.notify(ctx, notify.KindSponsorshipRejected, s, map[string]any{"reason": res.Reason})
	}
	return nil
}

func (c *Confirmer) awardSponsor(ctx context.Context, s *store.Sponsorship, amount decimal.Decimal) {
	if c.opts.Ledger == nil {
		return
	}
	_, err := c.opts.Ledger.Award(ctx, points.Award{
		Subject:  s.SponsorSubject,
		Platform: string(identity.PlatformOf(s.SponsorSubject)),
		Action:   points.ActionSponsorshipVerified,
		Metadata: map[string]any{
			"sponsorship_id": s.ID,
			"target_type":    s.TargetType,
			"target_id":      s.TargetID,
			"amount":         amount.String(),
		},
		DedupKey: "sponsorship:" + s.ID,
	})
	if err != nil {
		c.logger.Warn("sponsorship points award failed", "sponsorship_id", s.ID, "error", err)
	}
}

func (c *Confirmer) notify(ctx context.Context, kind notify.Kind, s *store.Sponsorship, extra map[string]any) {
	if c.opts.Notifier == nil {
		return
	}
	payload := map[string]any{
		"sponsorship_id": s.ID,
		"target_type":    s.TargetType,
		"target_id":      s.TargetID,
		"tx_hash":        s.TxHash,
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.opts.Notifier.Notify(ctx, kind, s.SponsorSubject, payload)
}

// sweeper re-enqueues records that have been pending for at least one
// interval, which covers restarts and queue overflow.
func (c *Confirmer) sweeper(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep enqueues stale pending records and returns how many were queued.
func (c *Confirmer) Sweep(ctx context.Context) int {
	cutoff := c.opts.Clock().Add(-c.opts.SweepInterval).Unix()
	pending, err := c.store.ListPendingSponsorships(ctx, cutoff, c.opts.QueueSize)
	if err != nil {
		c.logger.Warn("pending sponsorship sweep failed", "error", err)
		return 0
	}
	n := 0
	for _, s := range pending {
		if c.Enqueue(s.ID) {
			n++
		}
	}
	if n > 0 {
		c.logger.Info("re-enqueued pending sponsorships", "count", n)
	}
	return n
}

func resultOf(s *store.Sponsorship) payment.Result {
	switch s.Status {
	case store.StatusVerified:
		return payment.Result{Status: payment.StatusVerified, Amount: s.VerifiedAmount.Decimal, Reason: s.Reason}
	case store.StatusRejected:
		return payment.Result{Status: payment.StatusRejected, Reason: s.Reason}
	default:
		return payment.Result{Status: payment.StatusRetry}
	}
}
