package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/sqlite"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/testutil"
)

func TestSQLiteDriver(t *testing.T) {
	dir := t.TempDir()
	testutil.RunDriverTests(t, "sqlite", &store.DriverConfig{Driver: "sqlite", DataDir: dir})

	if _, err := os.Stat(filepath.Join(dir, sqlite.DBFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", sqlite.DBFile)
	}
}

func TestSQLiteDriverSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := &store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()}

	open := func() store.Driver {
		d, err := store.New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.Init(ctx); err != nil {
			t.Fatal(err)
		}
		return d
	}

	d := open()
	if err := d.CreateSponsorship(ctx, testutil.PendingSponsorship("sp-1", "0xabc", "loc-1")); err != nil {
		t.Fatal(err)
	}
	d.Close()

	d = open()
	defer d.Close()
	got, err := d.GetSponsorship(ctx, "sp-1")
	if err != nil {
		t.Fatalf("record lost across restart: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s", got.Status)
	}
}

func TestNewDriver_RequiresDataDir(t *testing.T) {
	if _, err := sqlite.NewDriver(&store.DriverConfig{Driver: "sqlite"}); err == nil {
		t.Error("expected error without data_dir")
	}
}
