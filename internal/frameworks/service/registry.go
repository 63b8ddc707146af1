// Package service holds the HTTP service contract and the name-keyed
// registry that service packages add themselves to from init().
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
)

// Service is a mountable group of HTTP routes.
type Service interface {
	Handler() http.Handler
	// Prefix is the mount path without a leading slash; empty mounts at root.
	Prefix() string
	Close() error
	// Unprotected lists paths, relative to Prefix, served without a session.
	Unprotected() []string
}

// NewService builds a service from its [http.services.<name>] table.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)

// CoreServices are built on every start, configured or not, in mount order.
var CoreServices = []string{"health", "auth", "claims"}

var (
	mu           sync.RWMutex
	constructors = map[string]NewService{}
)

// Register adds a constructor. Names are unique.
func Register(name string, fn NewService) error {
	if fn == nil {
		return fmt.Errorf("service %q: nil constructor", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := constructors[name]; dup {
		return fmt.Errorf("service %q already registered", name)
	}
	constructors[name] = fn
	return nil
}

// MustRegister is Register for init(); it panics on a duplicate.
func MustRegister(name string, fn NewService) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

// Get returns the constructor for name, or nil.
func Get(name string) NewService {
	mu.RLock()
	defer mu.RUnlock()
	return constructors[name]
}

// RegisteredServices returns the registered names, sorted.
func RegisteredServices() []string {
	mu.RLock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	mu.RUnlock()
	slices.Sort(names)
	return names
}

// Build constructs the named services in order. confFor supplies each
// service's table. When one constructor fails, the services already built
// are closed and the error names the failing service.
func Build(names []string, confFor func(name string) map[string]any, log *slog.Logger) ([]Service, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	built := make([]Service, 0, len(names))
	fail := func(err error) ([]Service, error) {
		var closeErrs []error
		for i := len(built) - 1; i >= 0; i-- {
			if cerr := built[i].Close(); cerr != nil {
				closeErrs = append(closeErrs, cerr)
			}
		}
		return nil, errors.Join(append([]error{err}, closeErrs...)...)
	}

	for _, name := range names {
		fn := Get(name)
		if fn == nil {
			return fail(fmt.Errorf("service %q is not registered", name))
		}
		svc, err := fn(confFor(name), log.With("service", name))
		if err != nil {
			return fail(fmt.Errorf("service %q: %w", name, err))
		}
		built = append(built, svc)
	}
	return built, nil
}

func resetRegistry() {
	mu.Lock()
	defer mu.Unlock()
	constructors = map[string]NewService{}
}
