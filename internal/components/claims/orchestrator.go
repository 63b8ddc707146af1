package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/payment"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/components/proximity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/token"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

// Reason codes raised by the orchestrator itself.
const (
	ReasonBelowFloor       = "below_floor"
	ReasonUnknownTarget    = "unknown_target"
	ReasonPlatformDisabled = "platform_disabled"
	ReasonTooManyDecimals  = "too_many_decimals"
	ReasonPaymentsDisabled = "payments_disabled"
)

const maxAmountDecimalPlaces = 6

// Claim metric outcomes besides the trust kinds.
const (
	outcomeOK        = "ok"
	outcomePending   = "pending"
	outcomeDuplicate = "duplicate"
)

// TokenIssuer signs session tokens. *token.Codec satisfies it.
type TokenIssuer interface {
	Issue(subject, platform string, extras token.Extras, ttl time.Duration) (string, time.Time, error)
}

// Store is the record access the orchestrator needs.
type Store interface {
	store.SponsorshipStore
	store.LocationStore
	store.CrewStore
}

// Config wires an Orchestrator.
type Config struct {
	Verifiers identity.Verifiers
	Tokens    TokenIssuer
	TokenTTL  time.Duration
	Store     Store
	// Confirmer may be nil when no chain is configured; payment claims
	// then fail with a configuration error.
	Confirmer *Confirmer
	Recorder  *proximity.Recorder
	Ledger    points.Ledger

	// MinAmount is raised to config.PaymentFloor when lower.
	MinAmount     decimal.Decimal
	DefaultRadius float64

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Orchestrator is the single entry point for claims.
type Orchestrator struct {
	verifiers identity.Verifiers
	tokens    TokenIssuer
	tokenTTL  time.Duration
	store     Store
	confirmer *Confirmer
	recorder  *proximity.Recorder
	ledger    points.Ledger
	minAmount decimal.Decimal
	radius    float64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Tokens == nil {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "token issuer is required")
	}
	if cfg.Store == nil {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "store is required")
	}
	if cfg.Recorder == nil {
		return nil, trust.Configuration(trust.ReasonMissingConfig, "proximity recorder is required")
	}
	minAmount := cfg.MinAmount
	if minAmount.LessThan(config.PaymentFloor) {
		minAmount = config.PaymentFloor
	}
	o := &Orchestrator{
		verifiers: cfg.Verifiers,
		tokens:    cfg.Tokens,
		tokenTTL:  cfg.TokenTTL,
		store:     cfg.Store,
		confirmer: cfg.Confirmer,
		recorder:  cfg.Recorder,
		ledger:    cfg.Ledger,
		minAmount: minAmount,
		radius:    cfg.DefaultRadius,
		metrics:   cfg.Metrics,
		logger:    logutil.NoopIfNil(cfg.Logger),
		now:       cfg.Clock,
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// MinAmount is the smallest payment claim accepted.
func (o *Orchestrator) MinAmount() decimal.Decimal { return o.minAmount }

// Submit verifies c and applies its effects. Errors are *trust.Error values
// except for store failures.
func (o *Orchestrator) Submit(ctx context.Context, c Claim) (*Outcome, error) {
	var (
		out *Outcome
		err error
	)
	switch c := c.(type) {
	case IdentityClaim:
		out, err = o.submitIdentity(ctx, c)
	case PaymentClaim:
		out, err = o.submitPayment(ctx, c)
	case ProximityClaim:
		out, err = o.submitProximity(ctx, c)
	default:
		return nil, fmt.Errorf("claims: unsupported claim %T", c)
	}
	if err != nil {
		o.metrics.ObserveClaim(c.claimType(), outcomeLabel(err))
		return nil, err
	}
	return out, nil
}

func outcomeLabel(err error) string {
	if k := trust.KindOf(err); k != trust.KindUnknown {
		return k.String()
	}
	return "error"
}

func (o *Orchestrator) submitIdentity(ctx context.Context, c IdentityClaim) (*Outcome, error) {
	v, ok := o.verifiers[c.Platform]
	if !ok {
		return nil, trust.Configuration(ReasonPlatformDisabled, fmt.Sprintf("%s sign-in is not configured", c.Platform))
	}
	id, err := v.Verify(ctx, c.Assertion)
	if err != nil {
		return nil, err
	}

	tok, expiresAt, err := o.tokens.Issue(id.Subject, string(id.Platform), id.TokenExtras(), o.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	o.metrics.ObserveClaim(c.claimType(), outcomeOK)
	o.awardLogin(ctx, id)

	return &Outcome{Session: &Session{Token: tok, ExpiresAt: expiresAt, Identity: id}}, nil
}

// awardLogin credits the first login of each UTC day.
func (o *Orchestrator) awardLogin(ctx context.Context, id *identity.Identity) {
	if o.ledger == nil {
		return
	}
	day := o.now().UTC().Format(time.DateOnly)
	_, err := o.ledger.Award(ctx, points.Award{
		Subject:  id.Subject,
		Platform: string(id.Platform),
		Action:   points.ActionLogin,
		Metadata: map[string]any{"day": day},
		DedupKey: "login:" + id.Subject + ":" + day,
	})
	if err != nil {
		o.logger.Warn("login points award failed", "subject", id.Subject, "error", err)
	}
}

func (o *Orchestrator) validatePayment(ctx context.Context, c *PaymentClaim) error {
	if strings.TrimSpace(c.SponsorID) == "" {
		return trust.Malformed(trust.ReasonMissingField, "sponsor is required")
	}
	switch c.TargetType {
	case store.TargetEvent, store.TargetLocation:
	default:
		return trust.Malformed(trust.ReasonInvalidField, "targetType must be event or location")
	}
	if strings.TrimSpace(c.TargetID) == "" {
		return trust.Malformed(trust.ReasonMissingField, "targetId is required")
	}
	if c.AmountClaimed.LessThan(o.minAmount) {
		return trust.Malformed(ReasonBelowFloor, fmt.Sprintf("amountUsdc must be at least %s", o.minAmount.StringFixed(2)))
	}
	if !c.AmountClaimed.Equal(c.AmountClaimed.Truncate(maxAmountDecimalPlaces)) {
		return trust.Malformed(ReasonTooManyDecimals, "amountUsdc has more than 6 decimal places")
	}
	h, err := payment.ParseTxHash(c.TxHash)
	if err != nil {
		return err
	}
	c.TxHash = h.Hex()

	if c.TargetType == store.TargetLocation {
		if _, err := o.store.GetLocation(ctx, c.TargetID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return trust.Malformed(ReasonUnknownTarget, "target location does not exist")
			}
			return fmt.Errorf("load target location: %w", err)
		}
	}
	return nil
}

// submitPayment records a pending sponsorship and queues it for on-chain
// confirmation. It never waits for the chain.
func (o *Orchestrator) submitPayment(ctx context.Context, c PaymentClaim) (*Outcome, error) {
	if o.confirmer == nil {
		return nil, trust.Configuration(ReasonPaymentsDisabled, "payment verification is not configured")
	}
	if err := o.validatePayment(ctx, &c); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate sponsorship id: %w", err)
	}
	now := o.now().Unix()
	s := &store.Sponsorship{
		ID:             id.String(),
		SponsorSubject: c.SponsorID,
		TargetType:     c.TargetType,
		TargetID:       c.TargetID,
		AmountClaimed:  c.AmountClaimed,
		TxHash:         c.TxHash,
		Status:         store.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateSponsorship(ctx, s); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, trust.Conflict(trust.ReasonAlreadyClaimed, "this transaction has already been claimed")
		}
		return nil, fmt.Errorf("create sponsorship: %w", err)
	}

	o.confirmer.Enqueue(s.ID)
	o.metrics.ObserveClaim("payment", outcomePending)
	o.logger.Info("sponsorship accepted", "sponsorship_id", s.ID, "sponsor", s.SponsorSubject,
		"target_type", s.TargetType, "target_id", s.TargetID, "amount", s.AmountClaimed.String())
	return &Outcome{Sponsorship: s}, nil
}

func (o *Orchestrator) submitProximity(ctx context.Context, c ProximityClaim) (*Outcome, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return nil, trust.Malformed(trust.ReasonMissingField, "user is required")
	}
	p := proximity.Point{Lat: c.Lat, Lon: c.Lon}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	crews, err := o.resolveCrews(ctx, c.UserID, c.CrewIDs)
	if err != nil {
		return nil, err
	}

	locations, err := o.store.ListActiveLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	matches := proximity.MatchLocations(p, locations, o.radius)

	res, err := o.recorder.Record(ctx, c.UserID, crews, matches)
	if err != nil {
		return nil, err
	}
	label := outcomeOK
	if len(res.Checkins) == 0 && res.Duplicates > 0 {
		label = outcomeDuplicate
	}
	o.metrics.ObserveClaim("proximity", label)
	return &Outcome{Proximity: res}, nil
}

func (o *Orchestrator) resolveCrews(ctx context.Context, userID string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return proximity.ResolveCrews(ctx, o.store, userID, "")
	}
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, crew := range requested {
		if _, dup := seen[crew]; dup || crew == "" {
			continue
		}
		seen[crew] = struct{}{}
		resolved, err := proximity.ResolveCrews(ctx, o.store, userID, crew)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// Sponsorship returns a stored sponsorship record.
func (o *Orchestrator) Sponsorship(ctx context.Context, id string) (*store.Sponsorship, error) {
	return o.store.GetSponsorship(ctx, id)
}

// Reverify makes one synchronous confirmation attempt for a sponsorship.
// A terminal record is returned unchanged; a chain without an answer yet
// is a transient error.
func (o *Orchestrator) Reverify(ctx context.Context, id string) (*store.Sponsorship, error) {
	if o.confirmer == nil {
		return nil, trust.Configuration(ReasonPaymentsDisabled, "payment verification is not configured")
	}
	s, res, err := o.confirmer.ConfirmOnce(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status == payment.StatusRetry {
		return s, trust.Transient(res.Reason, res.Err)
	}
	return s, nil
}
