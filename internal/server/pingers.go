package server

import (
	"context"
)

// pingable is anything exposing a context-aware Ping method. The vector
// store and the catalog both do.
type pingable interface {
	Ping(ctx context.Context) error
}

// DepPinger adapts any pingable dependency into a named Pinger. It
// satisfies the Pinger interface and is used by GET /api/ready.
type DepPinger struct {
	dep  pingable
	name string
}

// NewDepPinger wraps dep under the given readiness label.
func NewDepPinger(name string, dep pingable) *DepPinger {
	return &DepPinger{dep: dep, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *DepPinger) Name() string { return p.name }

// Ping delegates to the wrapped dependency.
func (p *DepPinger) Ping(ctx context.Context) error {
	return p.dep.Ping(ctx)
}
