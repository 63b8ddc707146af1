// Package tls builds the server's tls.Config for the configured mode.
package tls

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

var (
	ErrInvalidTLSMode = errors.New("invalid TLS mode")
	ErrMissingCert    = errors.New("missing certificate or key file")
)

// Manager resolves certificates for the HTTPS listener.
type Manager struct {
	cfg    *config.TLSConfig
	logger *slog.Logger
	acme   *ACMEManager
}

// NewManager creates a manager for cfg. Nothing is loaded until Config.
func NewManager(cfg *config.TLSConfig, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logutil.NoopIfNil(logger)}
}

// ACME returns the ACME manager once Config has run in acme mode, else nil.
// The server mounts its challenge handler on the plain HTTP listener.
func (m *Manager) ACME() *ACMEManager {
	return m.acme
}

// Config returns the tls.Config for the configured mode, or nil for "off".
// In acme mode the ACME manager is created but not initialized; call
// ACME().Init once the challenge listener is up.
func (m *Manager) Config(ctx context.Context) (*cryptotls.Config, error) {
	switch m.cfg.Mode {
	case "off", "":
		return nil, nil
	case "static":
		return m.loadStatic()
	case "acme":
		m.acme = NewACMEManager(&m.cfg.ACME, m.logger)
		return m.acme.TLSConfig(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTLSMode, m.cfg.Mode)
	}
}

func (m *Manager) loadStatic() (*cryptotls.Config, error) {
	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return nil, ErrMissingCert
	}
	cert, err := cryptotls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	m.logger.Info("loaded static TLS certificate", "cert_file", m.cfg.CertFile)
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}
