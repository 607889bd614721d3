// Package health periodically verifies that every backend MySQL
// segment in the cluster topology is reachable and answering,
// generalizing the teacher's per-tenant health checker
// (internal/health/checker.go) from multi-protocol TCP probing to a
// single MySQL-only COM_PING check run over a pooled, already
// authenticated connection.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbmesh/proxy/internal/config"
	"github.com/dbmesh/proxy/internal/metrics"
	"github.com/dbmesh/proxy/internal/mysql"
	"github.com/dbmesh/proxy/internal/pool"
)

// Status represents the health status of a segment.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Status as its string form so API responses and
// the dashboard see "healthy"/"unhealthy" rather than a raw enum int.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SegmentHealth holds health information for one segment.
type SegmentHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic COM_PING health checks against every
// segment in the current topology snapshot.
type Checker struct {
	mu       sync.RWMutex
	segments map[string]*SegmentHealth
	topology *config.TopologyHolder
	metrics  *metrics.Collector
	poolMgr  *pool.Manager

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(t *config.TopologyHolder, m *metrics.Collector, pm *pool.Manager, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		segments:          make(map[string]*SegmentHealth),
		topology:          t,
		metrics:           m,
		poolMgr:           pm,
		interval:          hcCfg.Interval,
		failureThreshold:  hcCfg.FailureThreshold,
		connectionTimeout: hcCfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	segments := c.topology.Current().Segments

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for name := range segments {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.pingSegment(name)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(name, elapsed, healthy)
			}
			c.updateStatus(name, healthy)
		}()
	}
	wg.Wait()
}

// pingSegment runs a COM_PING over a pooled, authenticated connection,
// giving a full end-to-end health signal rather than just a TCP probe.
func (c *Checker) pingSegment(name string) bool {
	sp, ok := c.poolMgr.Get(name)
	if !ok {
		c.setLastError(name, fmt.Sprintf("no pool for segment %q", name))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	sc, err := sp.Acquire(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "pool_exhausted")
		}
		c.setLastError(name, "pool exhausted for health check: "+err.Error())
		return false
	}
	defer sp.Return(sc)

	conn := sc.Conn()
	conn.SetDeadline(time.Now().Add(c.connectionTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := mysql.WriteFrame(conn, 0, []byte{mysql.ComPing}); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "write_error")
		}
		c.setLastError(name, "COM_PING write: "+err.Error())
		sc.Close()
		return false
	}

	_, body, err := mysql.ReadFrame(conn)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "read_error")
		}
		c.setLastError(name, "COM_PING read: "+err.Error())
		sc.Close()
		return false
	}
	if len(body) == 0 || body[0] != 0x00 {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "ping_error")
		}
		c.setLastError(name, "COM_PING did not return OK")
		return false
	}

	c.setLastError(name, "")
	return true
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	sh := c.getOrCreate(name)
	if errMsg != "" {
		sh.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh := c.getOrCreate(name)
	sh.LastCheck = time.Now()

	if healthy {
		if sh.ConsecutiveFailures > 0 {
			slog.Info("segment recovered", "segment", name, "failures", sh.ConsecutiveFailures)
		}
		sh.Status = StatusHealthy
		sh.ConsecutiveFailures = 0
		sh.LastError = ""
	} else {
		sh.ConsecutiveFailures++
		if sh.ConsecutiveFailures >= c.failureThreshold {
			if sh.Status != StatusUnhealthy {
				slog.Warn("segment marked unhealthy", "segment", name, "failures", sh.ConsecutiveFailures, "error", sh.LastError)
			}
			sh.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetSegmentHealth(name, sh.Status == StatusHealthy)
	}
}

func (c *Checker) getOrCreate(name string) *SegmentHealth {
	sh, ok := c.segments[name]
	if !ok {
		sh = &SegmentHealth{Status: StatusUnknown}
		c.segments[name] = sh
	}
	return sh
}

// IsHealthy returns whether a segment is healthy (or unknown, which is
// treated as healthy).
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sh, ok := c.segments[name]
	if !ok {
		return true
	}
	return sh.Status != StatusUnhealthy
}

// GetStatus returns the health status for a segment.
func (c *Checker) GetStatus(name string) SegmentHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sh, ok := c.segments[name]
	if !ok {
		return SegmentHealth{Status: StatusUnknown}
	}
	return *sh
}

// GetAllStatuses returns health statuses for all known segments.
func (c *Checker) GetAllStatuses() map[string]SegmentHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]SegmentHealth, len(c.segments))
	for name, sh := range c.segments {
		result[name] = *sh
	}
	return result
}

// OverallHealthy returns true if every known segment is healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sh := range c.segments {
		if sh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// RemoveSegment removes health state for a segment dropped from the
// topology (e.g. after a hot-reload).
func (c *Checker) RemoveSegment(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.segments, name)
	if c.metrics != nil {
		c.metrics.RemoveSegment(name)
	}
	slog.Info("removed health state", "segment", name)
}
