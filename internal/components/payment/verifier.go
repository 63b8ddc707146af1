// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2026 FlowB Authors

// Package payment verifies stablecoin payment claims against ERC-20
// Transfer logs in a transaction receipt.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
)

// Reason codes for payment outcomes.
const (
	ReasonReceiptFailed   = "receipt_failed"
	ReasonNoTransferLog   = "no_transfer_log"
	ReasonBelowMinimum    = "below_minimum"
	ReasonMalformedTxHash = "malformed_tx_hash"
	ReasonTxNotFound      = "tx_not_found"
)

const rpcMethodReceipt = "eth_getTransactionReceipt"

// TransferTopic is the ERC-20 Transfer event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ChainReader fetches receipts. *ethclient.Client satisfies it.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Status is the verdict of one verification attempt.
type Status string

const (
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
	// StatusRetry means the chain gave no definitive answer yet.
	StatusRetry Status = "retry"
)

// Result is the outcome of Verify. Amount is the on-chain amount whenever a
// matching transfer was decoded. Err carries the cause of a Retry.
type Result struct {
	Status Status
	Amount decimal.Decimal
	Reason string
	Err    error
}

// Settings fixes what a valid payment looks like.
type Settings struct {
	TokenContract common.Address
	Recipient     common.Address
	Decimals      int32
	RPCTimeout    time.Duration
	RatePerSecond float64
}

// SettingsFromConfig validates the [chain] section.
func SettingsFromConfig(c *config.ChainConfig) (Settings, error) {
	if c.RPCURL == "" {
		return Settings{}, trust.Configuration(trust.ReasonMissingConfig, "chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.TokenContract) {
		return Settings{}, trust.Configuration(trust.ReasonMissingConfig, "chain.token_contract must be a hex address")
	}
	if !common.IsHexAddress(c.Recipient) {
		return Settings{}, trust.Configuration(trust.ReasonMissingConfig, "chain.recipient must be a hex address")
	}
	return Settings{
		TokenContract: common.HexToAddress(c.TokenContract),
		Recipient:     common.HexToAddress(c.Recipient),
		Decimals:      c.Decimals,
		RPCTimeout:    c.RPCTimeout,
		RatePerSecond: c.RPCRatePerSecond,
	}, nil
}

// Verifier checks a transaction against Settings.
type Verifier struct {
	reader         ChainReader
	settings       Settings
	recipientTopic common.Hash
	limiter        *rate.Limiter
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logutil.NoopIfNil(l) }
}

// New builds a Verifier. A zero rate disables throttling.
func New(reader ChainReader, s Settings, opts ...Option) *Verifier {
	if s.RPCTimeout <= 0 {
		s.RPCTimeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if s.RatePerSecond > 0 {
		limit = rate.Limit(s.RatePerSecond)
		burst = max(1, int(s.RatePerSecond))
	}
	v := &Verifier{
		reader:         reader,
		settings:       s,
		recipientTopic: common.BytesToHash(s.Recipient.Bytes()),
		limiter:        rate.NewLimiter(limit, burst),
		logger:         logutil.Noop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseTxHash accepts a 0x-prefixed 32-byte hex hash.
func ParseTxHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, trust.Malformed(ReasonMalformedTxHash, "txHash must be a 0x-prefixed 32-byte hex string")
	}
	return common.BytesToHash(b), nil
}

// Verify fetches the receipt for txHash and checks for a Transfer of at
// least minAmount from the token contract to the recipient.
//
// A missing receipt, an RPC error or a timeout is Retry: the caller decides
// when waiting has lasted long enough. A failed receipt, no matching log, or
// a short amount is a final Rejected.
func (v *Verifier) Verify(ctx context.Context, txHash string, minAmount decimal.Decimal) Result {
	h, err := ParseTxHash(txHash)
	if err != nil {
		return Result{Status: StatusRejected, Reason: ReasonMalformedTxHash, Err: err}
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return Result{Status: StatusRetry, Reason: trust.ReasonUpstreamTimeout, Err: trust.Transient(trust.ReasonUpstreamTimeout, err)}
	}

	rctx, cancel := context.WithTimeout(ctx, v.settings.RPCTimeout)
	defer cancel()
	start := time.Now()
	receipt, err := v.reader.TransactionReceipt(rctx, h)
	v.metrics.ObserveRPC(rpcMethodReceipt, time.Since(start))

	switch {
	case errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil):
		return Result{Status: StatusRetry, Reason: ReasonTxNotFound, Err: trust.Transient(ReasonTxNotFound, ethereum.NotFound)}
	case errors.Is(err, context.DeadlineExceeded):
		v.logger.Warn("receipt lookup timed out", "tx_hash", h.Hex(), "timeout", v.settings.RPCTimeout)
		return Result{Status: StatusRetry, Reason: trust.ReasonUpstreamTimeout, Err: trust.Transient(trust.ReasonUpstreamTimeout, err)}
	case err != nil:
		v.logger.Warn("receipt lookup failed", "tx_hash", h.Hex(), "error", err)
		return Result{Status: StatusRetry, Reason: trust.ReasonUpstreamError, Err: trust.Transient(trust.ReasonUpstreamError, err)}
	}

	return v.evaluate(receipt, minAmount)
}

func (v *Verifier) evaluate(receipt *types.Receipt, minAmount decimal.Decimal) Result {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Result{Status: StatusRejected, Reason: ReasonReceiptFailed}
	}

	amount, ok := v.transferAmount(receipt.Logs)
	if !ok {
		return Result{Status: StatusRejected, Reason: ReasonNoTransferLog}
	}
	if amount.LessThan(minAmount) {
		return Result{Status: StatusRejected, Amount: amount, Reason: ReasonBelowMinimum}
	}
	return Result{Status: StatusVerified, Amount: amount}
}

// transferAmount decodes the first Transfer log from the token contract to
// the recipient.
func (v *Verifier) transferAmount(logs []*types.Log) (decimal.Decimal, bool) {
	for _, l := range logs {
		if l == nil || l.Address != v.settings.TokenContract {
			continue
		}
		if len(l.Topics) < 3 || l.Topics[0] != TransferTopic || l.Topics[2] != v.recipientTopic {
			continue
		}
		if len(l.Data) < 32 {
			continue
		}
		var n uint256.Int
		n.SetBytes(l.Data[:32])
		return decimal.NewFromBigInt(n.ToBig(), -v.settings.Decimals), true
	}
	return decimal.Decimal{}, false
}

// String is used in logs.
func (r Result) String() string {
	if r.Reason == "" {
		return fmt.Sprintf("%s(%s)", r.Status, r.Amount)
	}
	return fmt.Sprintf("%s(%s, %s)", r.Status, r.Amount, r.Reason)
}
