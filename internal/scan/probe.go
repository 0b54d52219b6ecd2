package scan

import (
	"context"
	"sync/atomic"
)

// ConnectivityProbe reports whether the redemption authority is
// reachable.  client.Client implements it against /healthz.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

// StaticProbe is a ConnectivityProbe whose answer is set explicitly.
type StaticProbe struct {
	online atomic.Bool
}

func NewStaticProbe(online bool) *StaticProbe {
	p := &StaticProbe{}
	p.online.Store(online)
	return p
}

func (p *StaticProbe) Online(context.Context) bool { return p.online.Load() }

// Set changes the reported connectivity.
func (p *StaticProbe) Set(online bool) { p.online.Store(online) }
