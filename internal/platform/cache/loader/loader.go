// Package loader links in every cache driver. cmd/flowbd imports it for
// side effects.
package loader

import (
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/cache/memory"
	_ "github.com/FlowBondTech/flowb-sub000/internal/platform/cache/redis"
)
