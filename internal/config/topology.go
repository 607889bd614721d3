package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Segment is one backend MySQL instance the proxy can dispatch to: the
// single meta segment, or one of the data segments a dis_table shards
// across. spec.md §6 treats the full topology as an opaque snapshot;
// Segment is its leaf node.
type Segment struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Meta     bool   `yaml:"meta"`
}

// Addr returns the "host:port" dial address for this segment.
func (s Segment) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DisTable describes a distributed/replicated table's sharding rule:
// which columns it's keyed on, the algorithm used to pick a segment
// from those keys, and any relative tables that must be co-located
// with it (spec.md §6).
type DisTable struct {
	DisKeys      []string `yaml:"dis_keys"`
	DisAlgorithm string   `yaml:"dis_algorithm"`
	DisRelatives []string `yaml:"dis_relatives"`
}

// Cluster is the full topology: every segment by name, the dis_rules
// keyed by table name, and the set of tables replicated to every
// segment rather than sharded.
type Cluster struct {
	Segments         map[string]Segment `yaml:"segments"`
	DisRules         map[string]DisTable `yaml:"dis_rules"`
	ReplicatedTables []string            `yaml:"replicated_tables"`
}

// PrimarySegment returns the cluster's meta segment — the one segment
// flagged meta: true — which the single-segment plan executor (C9)
// dispatches every statement to today.
func (c *Cluster) PrimarySegment() (string, Segment, error) {
	for name, seg := range c.Segments {
		if seg.Meta {
			return name, seg, nil
		}
	}
	// No segment explicitly flagged meta: fall back to the only
	// segment, if there's exactly one.
	if len(c.Segments) == 1 {
		for name, seg := range c.Segments {
			return name, seg, nil
		}
	}
	return "", Segment{}, fmt.Errorf("config: no meta segment in topology")
}

var topologyEnvPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return topologyEnvPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := topologyEnvPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadCluster reads and parses a YAML topology file, substituting
// ${VAR_NAME} references against the process environment first.
func LoadCluster(path string) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	data = substituteEnvVars(data)

	cluster := &Cluster{}
	if err := yaml.Unmarshal(data, cluster); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}
	if err := validateCluster(cluster); err != nil {
		return nil, fmt.Errorf("validating topology: %w", err)
	}
	return cluster, nil
}

func validateCluster(c *Cluster) error {
	if len(c.Segments) == 0 {
		return fmt.Errorf("topology: at least one segment is required")
	}
	for name, seg := range c.Segments {
		if seg.Host == "" {
			return fmt.Errorf("segment %q: host is required", name)
		}
		if seg.Port == 0 {
			return fmt.Errorf("segment %q: port is required", name)
		}
	}
	for table, rule := range c.DisRules {
		if len(rule.DisKeys) == 0 {
			return fmt.Errorf("dis_rule %q: dis_keys is required", table)
		}
		if rule.DisAlgorithm == "" {
			return fmt.Errorf("dis_rule %q: dis_algorithm is required", table)
		}
	}
	return nil
}

// TopologyHolder is a lock-free, hot-swappable view of the current
// cluster topology, generalizing router.Router's atomic.Value
// snapshot-swap pattern (internal/router/router.go) from per-tenant
// routing to per-segment/per-dis_rule lookup. Reads never block a
// concurrent Reload.
type TopologyHolder struct {
	snap atomic.Value // holds *Cluster
	wmu  sync.Mutex   // serializes Reload callers
}

// NewTopologyHolder wraps an already-loaded Cluster.
func NewTopologyHolder(c *Cluster) *TopologyHolder {
	h := &TopologyHolder{}
	h.snap.Store(c)
	return h
}

// Current returns the currently active topology snapshot. Lock-free.
func (h *TopologyHolder) Current() *Cluster {
	return h.snap.Load().(*Cluster)
}

// Reload atomically swaps in a newly loaded topology, read from path.
func (h *TopologyHolder) Reload(path string) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	c, err := LoadCluster(path)
	if err != nil {
		return err
	}
	h.snap.Store(c)
	return nil
}

// Segment looks up a segment by name in the current snapshot.
func (h *TopologyHolder) Segment(name string) (Segment, bool) {
	c := h.Current()
	seg, ok := c.Segments[name]
	return seg, ok
}

// DisRule looks up the dis_rule for a table name, if any.
func (h *TopologyHolder) DisRule(table string) (DisTable, bool) {
	c := h.Current()
	rule, ok := c.DisRules[table]
	return rule, ok
}

// IsReplicated reports whether table is in the replicated_tables set.
func (h *TopologyHolder) IsReplicated(table string) bool {
	for _, t := range h.Current().ReplicatedTables {
		if t == table {
			return true
		}
	}
	return false
}
