package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/claims"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/appauth"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/farcaster"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/telegram"
	"github.com/FlowBondTech/flowb-sub000/internal/components/notify"
	"github.com/FlowBondTech/flowb-sub000/internal/components/payment"
	"github.com/FlowBondTech/flowb-sub000/internal/components/points"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/cache"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	httpclient "github.com/FlowBondTech/flowb-sub000/internal/platform/http/client"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/metrics"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
)

const webhookTimeout = 5 * time.Second

// buildVerifiers registers one verifier per configured platform. Platforms
// left unconfigured are absent and their claims fail as platform_disabled.
func buildVerifiers(cfg *config.Config, hc *httpclient.Client, c cache.Cache, st store.Driver, logger *slog.Logger) (identity.Verifiers, error) {
	var vs []identity.Verifier

	if cfg.Auth.TelegramBotToken != "" {
		v, err := telegram.New(cfg.Auth.TelegramBotToken,
			telegram.WithMaxAge(cfg.Auth.TelegramMaxAge),
			telegram.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}

	if cfg.Farcaster.AppDomain != "" || cfg.Farcaster.LegacyVerifyURL != "" {
		v, err := farcaster.New(farcaster.SettingsFromConfig(&cfg.Farcaster), hc,
			farcaster.WithCache(c),
			farcaster.WithAccountLinks(st),
			farcaster.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}

	if len(cfg.Auth.AppAccounts) > 0 {
		accounts := make([]appauth.Account, 0, len(cfg.Auth.AppAccounts))
		for _, a := range cfg.Auth.AppAccounts {
			accounts = append(accounts, appauth.Account{Username: a.Username, Password: a.Password, Role: a.Role})
		}
		v, err := appauth.New(accounts, logger)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}

	verifiers := identity.NewVerifiers(vs...)
	logger.Info("identity verifiers configured", "platforms", verifiers.Platforms())
	return verifiers, nil
}

func buildDispatcher(cfg *config.Config, hc *httpclient.Client, logger *slog.Logger) (notify.Dispatcher, func()) {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewLogDispatcher(logger), func() {}
	}
	wh := notify.NewWebhookDispatcher(hc, cfg.Notify.WebhookURL, webhookTimeout, logger)
	return notify.Multi{notify.NewLogDispatcher(logger), wh}, func() { _ = wh.Close() }
}

// buildConfirmer dials the chain and returns the payment pipeline. Without
// a [chain] section it returns a nil Confirmer and payment claims are
// reported as payments_disabled.
func buildConfirmer(
	ctx context.Context,
	cfg *config.Config,
	hc *httpclient.Client,
	st store.Driver,
	ledger points.Ledger,
	dispatcher notify.Dispatcher,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*claims.Confirmer, func(), error) {
	if cfg.Chain.RPCURL == "" {
		logger.Warn("chain.rpc_url not set, payment claims disabled")
		return nil, func() {}, nil
	}
	settings, err := payment.SettingsFromConfig(&cfg.Chain)
	if err != nil {
		return nil, nil, err
	}
	eth, err := payment.Dial(ctx, cfg.Chain.RPCURL, hc.StandardClient())
	if err != nil {
		return nil, nil, err
	}
	verifier := payment.New(eth, settings, payment.WithMetrics(m), payment.WithLogger(logger))
	confirmer := claims.NewConfirmer(st, verifier, claims.ConfirmerOptions{
		Workers:       cfg.Chain.Workers,
		QueueSize:     cfg.Chain.QueueSize,
		MaxAttempts:   cfg.Chain.MaxAttempts,
		Deadline:      cfg.Chain.ConfirmationDeadline,
		SweepInterval: cfg.Chain.SweepInterval,
		Ledger:        ledger,
		Notifier:      dispatcher,
		Metrics:       m,
		Logger:        logger,
	})
	logger.Info("payment confirmation enabled",
		"token_contract", settings.TokenContract.Hex(),
		"recipient", settings.Recipient.Hex(),
		"workers", cfg.Chain.Workers)
	return confirmer, eth.Close, nil
}
