// Package interceptors provides named HTTP middleware. Services opt in by
// naming a profile in their config, e.g. ratelimit.profile = "signin".
package interceptors

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// NewInterceptor builds a middleware from one profile table.
type NewInterceptor func(conf map[string]any, log *slog.Logger) (Middleware, error)

var (
	mu           sync.RWMutex
	constructors = map[string]NewInterceptor{}
)

// Register adds a constructor under name, replacing any earlier one.
func Register(name string, fn NewInterceptor) {
	mu.Lock()
	defer mu.Unlock()
	constructors[name] = fn
}

// Get returns the constructor registered under name.
func Get(name string) (NewInterceptor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := constructors[name]
	return fn, ok
}

// Names returns the registered interceptor names, sorted.
func Names() []string {
	mu.RLock()
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	mu.RUnlock()
	slices.Sort(names)
	return names
}

// Profile returns [http.interceptors.<interceptor>.profiles.<profile>].
func Profile(all map[string]map[string]any, interceptor, profile string) (map[string]any, error) {
	section, ok := all[interceptor]
	if !ok {
		return nil, fmt.Errorf("%s profile %q: interceptor not configured", interceptor, profile)
	}
	profiles, ok := section["profiles"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s profile %q: no profiles table", interceptor, profile)
	}
	raw, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("%s profile %q not found", interceptor, profile)
	}
	conf, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s profile %q is not a table", interceptor, profile)
	}
	return conf, nil
}

// FromProfile builds interceptor from the named profile. An empty profile
// name yields a nil Middleware and no error.
func FromProfile(all map[string]map[string]any, interceptor, profile string, log *slog.Logger) (Middleware, error) {
	if profile == "" {
		return nil, nil
	}
	conf, err := Profile(all, interceptor, profile)
	if err != nil {
		return nil, err
	}
	fn, ok := Get(interceptor)
	if !ok {
		return nil, fmt.Errorf("interceptor %q not registered", interceptor)
	}
	mw, err := fn(conf, log)
	if err != nil {
		return nil, fmt.Errorf("interceptor %q profile %q: %w", interceptor, profile, err)
	}
	return mw, nil
}
