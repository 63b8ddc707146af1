package postgres_test

import (
	"os"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/postgres"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/testutil"
)

// The suite needs a scratch database; it creates tables but never drops them.
func TestPostgresDriver(t *testing.T) {
	dsn := os.Getenv("FLOWB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FLOWB_TEST_POSTGRES_DSN not set")
	}
	testutil.RunDriverTests(t, "postgres", &store.DriverConfig{Driver: "postgres", DSN: dsn})
}

func TestNewDriver_RequiresDSN(t *testing.T) {
	if _, err := postgres.NewDriver(&store.DriverConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error without dsn")
	}
}
