// Package loader triggers service registration via blank imports.
// Import this package to ensure all services are registered with the registry.
package loader

import (
	_ "github.com/FlowBondTech/flowb-sub000/internal/services/auth"
	_ "github.com/FlowBondTech/flowb-sub000/internal/services/claims"
	_ "github.com/FlowBondTech/flowb-sub000/internal/services/health"

	// Interceptors services can reference from their config.
	_ "github.com/FlowBondTech/flowb-sub000/internal/interceptors/ratelimit"
)
