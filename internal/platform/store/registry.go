package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// DriverConfig selects and configures a record store driver.
type DriverConfig struct {
	// Driver is sqlite, postgres or memory. Empty means sqlite.
	Driver string `json:"driver"`
	// DataDir holds the sqlite database file.
	DataDir string `json:"data_dir"`
	// DSN is the postgres connection string. Never serialized.
	DSN string `json:"-"`
}

// DriverFactory builds an uninitialized driver.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

// DefaultDriver is used when DriverConfig.Driver is empty.
const DefaultDriver = "sqlite"

var (
	driversMu sync.RWMutex
	factories = map[string]DriverFactory{}
)

// Register adds a driver factory. Driver packages call it from init().
func Register(name string, f DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	factories[name] = f
}

func driverName(cfg *DriverConfig) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" {
		return DefaultDriver
	}
	return name
}

// New builds the configured driver without initializing it.
func New(cfg *DriverConfig) (Driver, error) {
	if cfg == nil {
		cfg = &DriverConfig{}
	}
	name := driverName(cfg)
	driversMu.RLock()
	f, ok := factories[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (available: %s)", name, strings.Join(AvailableDrivers(), ", "))
	}
	return f(cfg)
}

// Open builds the configured driver and runs Init. A driver that fails to
// initialize is closed before Open returns.
func Open(ctx context.Context, cfg *DriverConfig) (Driver, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Init(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("init %s store: %w", d.Name(), err), d.Close())
	}
	return d, nil
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	driversMu.RUnlock()
	slices.Sort(names)
	return names
}
