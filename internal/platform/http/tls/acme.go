package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

const (
	legoStagingURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	legoProductionURL = "https://acme-v02.api.letsencrypt.org/directory"

	// RenewBefore is how close to expiry a certificate is renewed.
	RenewBefore = 30 * 24 * time.Hour

	challengeTTL = 10 * time.Minute
)

var ErrNoCertificate = errors.New("no certificate available")

type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

type tokenEntry struct {
	keyAuth string
	expires time.Time
}

// HTTP01Provider serves lego HTTP-01 challenges from memory. The server owns
// the port 80 listener; lego never binds one.
type HTTP01Provider struct {
	tokens sync.Map // token -> tokenEntry
	now    func() time.Time
}

func (p *HTTP01Provider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *HTTP01Provider) Present(domain, token, keyAuth string) error {
	p.tokens.Store(token, tokenEntry{keyAuth: keyAuth, expires: p.clock().Add(challengeTTL)})
	return nil
}

func (p *HTTP01Provider) CleanUp(domain, token, keyAuth string) error {
	p.tokens.Delete(token)
	return nil
}

func (p *HTTP01Provider) lookup(token string) (string, bool) {
	v, ok := p.tokens.Load(token)
	if !ok {
		return "", false
	}
	e := v.(tokenEntry)
	if p.clock().After(e.expires) {
		p.tokens.Delete(token)
		return "", false
	}
	return e.keyAuth, true
}

// ACMEManager obtains and renews the public origin's certificate with lego.
type ACMEManager struct {
	cfg      *config.ACMEConfig
	logger   *slog.Logger
	provider *HTTP01Provider

	mu     sync.RWMutex
	cert   *cryptotls.Certificate
	client *lego.Client
}

// NewACMEManager creates a manager; Init does the I/O.
func NewACMEManager(cfg *config.ACMEConfig, logger *slog.Logger) *ACMEManager {
	return &ACMEManager{
		cfg:      cfg,
		logger:   logutil.NoopIfNil(logger),
		provider: &HTTP01Provider{},
	}
}

func (m *ACMEManager) certPath() string { return filepath.Join(m.cfg.StorageDir, m.cfg.Domain+".crt") }
func (m *ACMEManager) keyPath() string  { return filepath.Join(m.cfg.StorageDir, m.cfg.Domain+".key") }

// Init loads a stored certificate, or registers and obtains one. A stored
// certificate inside the renewal window is renewed.
func (m *ACMEManager) Init(ctx context.Context) error {
	if m.cfg.Domain == "" || m.cfg.Email == "" {
		return errors.New("acme: domain and email are required")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("acme: create storage dir: %w", err)
	}

	if cert, err := cryptotls.LoadX509KeyPair(m.certPath(), m.keyPath()); err == nil {
		m.setCert(&cert)
		if !m.NeedsRenewal(time.Now()) {
			m.logger.Info("loaded ACME certificate", "domain", m.cfg.Domain)
			return nil
		}
	}
	return m.obtain(ctx)
}

// NeedsRenewal reports whether there is no certificate or it expires
// within RenewBefore of now.
func (m *ACMEManager) NeedsRenewal(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return true
	}
	leaf := m.cert.Leaf
	if leaf == nil {
		if len(m.cert.Certificate) == 0 {
			return true
		}
		parsed, err := x509.ParseCertificate(m.cert.Certificate[0])
		if err != nil {
			return true
		}
		leaf = parsed
	}
	return now.Add(RenewBefore).After(leaf.NotAfter)
}

// RunRenewal checks the certificate every interval until ctx is done.
func (m *ACMEManager) RunRenewal(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.NeedsRenewal(time.Now()) {
				continue
			}
			if err := m.obtain(ctx); err != nil {
				m.logger.Error("acme renewal failed", "domain", m.cfg.Domain, "error", err)
			}
		}
	}
}

func (m *ACMEManager) legoClient() (*lego.Client, error) {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	user, err := m.loadOrCreateUser()
	if err != nil {
		return nil, err
	}

	dir := m.cfg.Directory
	if dir == "" {
		dir = legoProductionURL
		if m.cfg.UseStaging {
			dir = legoStagingURL
		}
	}
	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = dir
	legoCfg.Certificate.KeyType = certcrypto.EC256

	c, err = lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("acme: client: %w", err)
	}
	if err := c.Challenge.SetHTTP01Provider(m.provider); err != nil {
		return nil, fmt.Errorf("acme: http-01 provider: %w", err)
	}
	if user.Registration == nil {
		reg, err := c.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acme: register: %w", err)
		}
		user.Registration = reg
		if err := m.saveUser(user); err != nil {
			m.logger.Warn("acme: save account", "error", err)
		}
	}

	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
	return c, nil
}

func (m *ACMEManager) obtain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := m.legoClient()
	if err != nil {
		return err
	}
	m.logger.Info("requesting ACME certificate", "domain", m.cfg.Domain)
	res, err := c.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("acme: obtain: %w", err)
	}
	if err := os.WriteFile(m.certPath(), res.Certificate, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(m.keyPath(), res.PrivateKey, 0o600); err != nil {
		return err
	}
	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("acme: parse certificate: %w", err)
	}
	m.setCert(&cert)
	m.logger.Info("stored ACME certificate", "domain", m.cfg.Domain)
	return nil
}

func (m *ACMEManager) setCert(cert *cryptotls.Certificate) {
	m.mu.Lock()
	m.cert = cert
	m.mu.Unlock()
}

// GetCertificate implements tls.Config.GetCertificate.
func (m *ACMEManager) GetCertificate(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, ErrNoCertificate
	}
	return m.cert, nil
}

// TLSConfig serves whatever certificate the manager currently holds.
func (m *ACMEManager) TLSConfig() *cryptotls.Config {
	return &cryptotls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     cryptotls.VersionTLS12,
	}
}

// ChallengeHandler serves /.well-known/acme-challenge/{token}.
func (m *ACMEManager) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/.well-known/acme-challenge/"
		token, ok := strings.CutPrefix(r.URL.Path, prefix)
		if !ok || token == "" || m.provider == nil {
			http.NotFound(w, r)
			return
		}
		keyAuth, ok := m.provider.lookup(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, keyAuth)
	})
}

func (m *ACMEManager) loadOrCreateUser() (*acmeUser, error) {
	userFile := filepath.Join(m.cfg.StorageDir, "account.json")
	keyFile := filepath.Join(m.cfg.StorageDir, "account.key")

	if data, err := os.ReadFile(userFile); err == nil {
		if keyPEM, err := os.ReadFile(keyFile); err == nil {
			user := &acmeUser{}
			if json.Unmarshal(data, user) == nil {
				if key, err := certcrypto.ParsePEMPrivateKey(keyPEM); err == nil {
					user.key = key
					return user, nil
				}
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: account key: %w", err)
	}
	return &acmeUser{Email: m.cfg.Email, key: key}, nil
}

func (m *ACMEManager) saveUser(user *acmeUser) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.cfg.StorageDir, "account.json"), data, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.cfg.StorageDir, "account.key"), certcrypto.PEMEncode(user.key), 0o600)
}
