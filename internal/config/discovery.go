package config

import "context"

// Discoverer resolves a cluster's topology from some external source
// (a control plane, a metadata service) rather than a static file.
// spec.md §1 calls cluster discovery out as a minimal shell specified
// only at its interface boundary; StaticDiscoverer below is that
// shell's one stub implementation.
type Discoverer interface {
	Discover(ctx context.Context) (*Cluster, error)
}

// StaticDiscoverer implements Discoverer by returning a fixed,
// already-loaded Cluster — today's only discovery strategy, standing
// in for a future control-plane-backed one.
type StaticDiscoverer struct {
	cluster *Cluster
}

// NewStaticDiscoverer wraps an already-loaded Cluster as a Discoverer.
func NewStaticDiscoverer(c *Cluster) *StaticDiscoverer {
	return &StaticDiscoverer{cluster: c}
}

func (d *StaticDiscoverer) Discover(ctx context.Context) (*Cluster, error) {
	return d.cluster, nil
}
