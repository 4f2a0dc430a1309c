package core

import (
	"pkt.systems/cursortrail/internal/metrics"
)

// RegistryDeps captures the collaborators of a pool registry.
type RegistryDeps struct {
	Host    SurfaceHost
	Metrics *metrics.Pool
}
