package memory_test

import (
	"testing"

	"github.com/FlowBondTech/flowb-sub000/internal/platform/store"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/store/memory"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/store/testutil"
)

func TestMemoryDriver(t *testing.T) {
	testutil.RunDriverTests(t, "memory", &store.DriverConfig{Driver: "memory"})
}
