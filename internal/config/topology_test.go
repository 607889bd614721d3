package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempTopology(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadCluster(t *testing.T) {
	yaml := `
segments:
  meta:
    host: 127.0.0.1
    port: 3306
    dbname: meta
    username: root
    password: secret
    meta: true
  shard1:
    host: 127.0.0.1
    port: 3307
    dbname: shard1
    username: root
    password: secret
dis_rules:
  orders:
    dis_keys: [user_id]
    dis_algorithm: hash
replicated_tables: [currencies]
`
	path := writeTempTopology(t, yaml)
	c, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("LoadCluster failed: %v", err)
	}
	if len(c.Segments) != 2 {
		t.Errorf("expected 2 segments, got %d", len(c.Segments))
	}
	name, seg, err := c.PrimarySegment()
	if err != nil {
		t.Fatalf("PrimarySegment: %v", err)
	}
	if name != "meta" || seg.Port != 3306 {
		t.Errorf("expected meta segment on port 3306, got %s:%d", name, seg.Port)
	}
	if rule, ok := c.DisRules["orders"]; !ok || rule.DisAlgorithm != "hash" {
		t.Errorf("expected dis_rule for orders with hash algorithm, got %+v", rule)
	}
}

func TestLoadClusterEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_SEGMENT_PASSWORD", "fromenv")
	defer os.Unsetenv("TEST_SEGMENT_PASSWORD")

	yaml := `
segments:
  meta:
    host: 127.0.0.1
    port: 3306
    dbname: meta
    username: root
    password: ${TEST_SEGMENT_PASSWORD}
    meta: true
`
	path := writeTempTopology(t, yaml)
	c, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("LoadCluster failed: %v", err)
	}
	if c.Segments["meta"].Password != "fromenv" {
		t.Errorf("expected password fromenv, got %s", c.Segments["meta"].Password)
	}
}

func TestLoadClusterValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no segments", `segments: {}`},
		{"missing host", `
segments:
  meta:
    port: 3306
`},
		{"missing port", `
segments:
  meta:
    host: 127.0.0.1
`},
		{"dis_rule missing keys", `
segments:
  meta:
    host: 127.0.0.1
    port: 3306
dis_rules:
  orders:
    dis_algorithm: hash
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempTopology(t, tt.yaml)
			if _, err := LoadCluster(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestTopologyHolderReload(t *testing.T) {
	path := writeTempTopology(t, `
segments:
  meta:
    host: 127.0.0.1
    port: 3306
    meta: true
`)
	c, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("LoadCluster failed: %v", err)
	}
	holder := NewTopologyHolder(c)

	if _, ok := holder.Segment("shard1"); ok {
		t.Fatal("shard1 should not exist before reload")
	}

	if err := os.WriteFile(path, []byte(`
segments:
  meta:
    host: 127.0.0.1
    port: 3306
    meta: true
  shard1:
    host: 127.0.0.1
    port: 3307
`), 0644); err != nil {
		t.Fatalf("rewriting topology file: %v", err)
	}

	if err := holder.Reload(path); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if _, ok := holder.Segment("shard1"); !ok {
		t.Fatal("expected shard1 after reload")
	}
}

func TestIsReplicated(t *testing.T) {
	path := writeTempTopology(t, `
segments:
  meta:
    host: 127.0.0.1
    port: 3306
    meta: true
replicated_tables: [currencies, countries]
`)
	c, err := LoadCluster(path)
	if err != nil {
		t.Fatalf("LoadCluster failed: %v", err)
	}
	holder := NewTopologyHolder(c)
	if !holder.IsReplicated("currencies") {
		t.Error("expected currencies to be replicated")
	}
	if holder.IsReplicated("orders") {
		t.Error("did not expect orders to be replicated")
	}
}
