package store_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/memory"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/postgres"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/sqlite"
)

func TestDriverRegistry(t *testing.T) {
	want := []string{"memory", "postgres", "sqlite"}
	if got := store.AvailableDrivers(); !slices.Equal(got, want) {
		t.Errorf("AvailableDrivers() = %v, want %v", got, want)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := store.New(&store.DriverConfig{Driver: "json"})
	if err == nil || !strings.Contains(err.Error(), "memory, postgres, sqlite") {
		t.Errorf("err = %v, want unknown driver listing the available ones", err)
	}
}

func TestOpen(t *testing.T) {
	d, err := store.Open(context.Background(), &store.DriverConfig{Driver: " Memory "})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.Name() != "memory" {
		t.Errorf("Name() = %q", d.Name())
	}
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	d, err := store.Open(context.Background(), &store.DriverConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.Name() != store.DefaultDriver {
		t.Errorf("Name() = %q, want %q", d.Name(), store.DefaultDriver)
	}
}

func TestSponsorshipStatusTerminal(t *testing.T) {
	if store.StatusPending.Terminal() {
		t.Error("pending is not terminal")
	}
	if !store.StatusVerified.Terminal() || !store.StatusRejected.Terminal() {
		t.Error("verified and rejected are terminal")
	}
}
