package health

import (
	"net"
	"testing"
	"time"

	"github.com/dbmesh/proxy/internal/config"
	"github.com/dbmesh/proxy/internal/metrics"
	"github.com/dbmesh/proxy/internal/mysql"
	"github.com/dbmesh/proxy/internal/pool"
)

var testHealthCfg = config.HealthCheckConfig{
	Interval:          30 * time.Second,
	FailureThreshold:  3,
	ConnectionTimeout: 5 * time.Second,
}

func newTestTopology() *config.TopologyHolder {
	return config.NewTopologyHolder(&config.Cluster{
		Segments: map[string]config.Segment{
			"healthy_segment": {Host: "localhost", Port: 3306, DBName: "db", Username: "user", Meta: true},
		},
	})
}

func TestCheckerInitialState(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	if !c.IsHealthy("unknown") {
		t.Error("unknown segment should be treated as healthy")
	}

	status := c.GetStatus("unknown")
	if status.Status != StatusUnknown {
		t.Errorf("expected StatusUnknown, got %v", status.Status)
	}
}

func TestCheckerUpdateStatus(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	c.updateStatus("test", true)
	if !c.IsHealthy("test") {
		t.Error("should be healthy after healthy update")
	}

	status := c.GetStatus("test")
	if status.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v", status.Status)
	}

	c.updateStatus("test", false)
	if !c.IsHealthy("test") {
		t.Error("should still be healthy after one failure")
	}

	status = c.GetStatus("test")
	if status.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", status.ConsecutiveFailures)
	}
}

func TestCheckerThreshold(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	c.updateStatus("test", false)
	c.updateStatus("test", false)
	c.updateStatus("test", false)

	if c.IsHealthy("test") {
		t.Error("should be unhealthy after 3 consecutive failures")
	}

	status := c.GetStatus("test")
	if status.Status != StatusUnhealthy {
		t.Errorf("expected StatusUnhealthy, got %v", status.Status)
	}
}

func TestCheckerRecovery(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	c.updateStatus("test", false)
	c.updateStatus("test", false)
	c.updateStatus("test", false)

	if c.IsHealthy("test") {
		t.Error("should be unhealthy")
	}

	c.updateStatus("test", true)
	if !c.IsHealthy("test") {
		t.Error("should be healthy after recovery")
	}

	status := c.GetStatus("test")
	if status.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures after recovery, got %d", status.ConsecutiveFailures)
	}
}

func TestOverallHealthy(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	if !c.OverallHealthy() {
		t.Error("should be overall healthy with no checks")
	}

	c.updateStatus("good", true)
	if !c.OverallHealthy() {
		t.Error("should be overall healthy with one healthy segment")
	}

	c.updateStatus("bad", false)
	c.updateStatus("bad", false)
	c.updateStatus("bad", false)

	if c.OverallHealthy() {
		t.Error("should not be overall healthy with one unhealthy segment")
	}
}

func TestGetAllStatuses(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	c.updateStatus("s1", true)
	c.updateStatus("s2", true)

	statuses := c.GetAllStatuses()
	if len(statuses) != 2 {
		t.Errorf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusUnknown, "unknown"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestDoubleStop(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)
	c.Start()

	c.Stop()
	c.Stop()
}

func TestCheckAllUpdatesEverySegment(t *testing.T) {
	topo := config.NewTopologyHolder(&config.Cluster{
		Segments: map[string]config.Segment{
			"s1": {Host: "localhost", Port: 59991, DBName: "db", Username: "u", Meta: true},
			"s2": {Host: "localhost", Port: 59992, DBName: "db", Username: "u"},
			"s3": {Host: "localhost", Port: 59993, DBName: "db", Username: "u"},
		},
	})
	pm := pool.NewManager(config.PoolDefaults{MinConnections: 0, MaxConnections: 1, AcquireTimeout: 50 * time.Millisecond, DialTimeout: 50 * time.Millisecond})
	c := NewChecker(topo, nil, pm, config.HealthCheckConfig{Interval: time.Minute, FailureThreshold: 3, ConnectionTimeout: 50 * time.Millisecond})

	// checkAll should not panic and should update all segment statuses
	// (will fail health checks since ports don't exist, but that's fine).
	c.checkAll()

	statuses := c.GetAllStatuses()
	if len(statuses) != 3 {
		t.Errorf("expected 3 statuses after checkAll, got %d", len(statuses))
	}
}

func TestRemoveSegment(t *testing.T) {
	c := NewChecker(newTestTopology(), nil, pool.NewManager(config.DefaultPoolDefaults()), testHealthCfg)

	c.updateStatus("segment_a", true)
	c.updateStatus("segment_b", true)

	if len(c.GetAllStatuses()) != 2 {
		t.Fatalf("expected 2 statuses before removal")
	}

	c.RemoveSegment("segment_a")

	statuses := c.GetAllStatuses()
	if len(statuses) != 1 {
		t.Errorf("expected 1 status after removal, got %d", len(statuses))
	}
	if _, exists := statuses["segment_a"]; exists {
		t.Error("segment_a should have been removed")
	}
	if _, exists := statuses["segment_b"]; !exists {
		t.Error("segment_b should still exist")
	}

	c.RemoveSegment("nonexistent")
}

func TestPingSegmentViaPoolSuccess(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(3 * time.Second))

		seq, body, err := mysql.ReadFrame(conn)
		if err != nil || len(body) == 0 || body[0] != mysql.ComPing {
			return
		}
		mysql.WriteFrame(conn, seq+1, mysql.NewOK().Encode())
	}()

	seg := config.Segment{Host: "127.0.0.1", Port: listener.Addr().(*net.TCPAddr).Port, DBName: "db", Username: "user"}
	defaults := config.PoolDefaults{MinConnections: 0, MaxConnections: 2, IdleTimeout: 5 * time.Minute, MaxLifetime: 30 * time.Minute, AcquireTimeout: 3 * time.Second}

	pm := pool.NewManager(defaults)
	sp := pm.GetOrCreate("test", seg) // MinConnections 0 means no background dial happens yet

	backendConn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sc := pool.NewSegmentConn(backendConn, "test", sp)
	sc.SetAuthenticated()
	sp.InjectTestConn(sc)

	topo := config.NewTopologyHolder(&config.Cluster{Segments: map[string]config.Segment{"test": seg}})
	c := NewChecker(topo, nil, pm, testHealthCfg)

	if !c.pingSegment("test") {
		t.Error("expected pingSegment to succeed against the injected connection")
	}
}

func TestPingSegmentNoPool(t *testing.T) {
	topo := newTestTopology()
	pm := pool.NewManager(config.DefaultPoolDefaults())
	c := NewChecker(topo, nil, pm, testHealthCfg)

	if c.pingSegment("never_created") {
		t.Error("expected pingSegment to fail when no pool exists for the segment")
	}
}

func TestHealthCheckTimingMetric(t *testing.T) {
	m := metrics.New()

	elapsed := 5 * time.Millisecond
	m.HealthCheckCompleted("s1", elapsed, true)

	if m == nil {
		t.Error("expected metrics collector to be non-nil")
	}
}

func TestHealthCheckErrorMetric(t *testing.T) {
	m := metrics.New()

	m.HealthCheckError("s1", "connection_refused")
	m.HealthCheckError("s1", "connection_refused")
	m.HealthCheckError("s1", "pool_exhausted")

	_ = m
}
