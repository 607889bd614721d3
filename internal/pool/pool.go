package pool

import (
	"context"
	"crypto/sha1" //nolint:gosec // mysql_native_password is defined in terms of SHA-1
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dbmesh/proxy/internal/config"
)

// Stats holds connection pool statistics for one segment.
type Stats struct {
	Segment   string `json:"segment"`
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Total     int    `json:"total"`
	Waiting   int    `json:"waiting"`
	MaxConns  int    `json:"max_connections"`
	MinConns  int    `json:"min_connections"`
	Exhausted int64  `json:"pool_exhausted_total"`
}

// OnPoolExhausted is called when a pool reaches max connections and a
// goroutine must wait.
type OnPoolExhausted func(segment string)

// SegmentPool manages authenticated connections to a single backend
// MySQL segment. Adapted from the teacher's TenantPool
// (internal/pool/pool.go): same condvar-based acquire/idle-reaper/
// exhaustion-counter machinery, narrowed to one backend protocol so
// every connection handed out is a fully logged-in MySQL session the
// plan executor can send COM_QUERY over immediately.
type SegmentPool struct {
	mu             sync.Mutex
	cond           *sync.Cond
	segmentName    string
	host           string
	port           int
	dbname         string
	username       string
	password       string
	minConns       int
	maxConns       int
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	acquireTimeout time.Duration
	dialTimeout    time.Duration

	idle      []*SegmentConn
	active    map[*SegmentConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
}

// NewSegmentPool creates a new connection pool for a segment.
func NewSegmentPool(name string, seg config.Segment, defaults config.PoolDefaults) *SegmentPool {
	sp := &SegmentPool{
		segmentName:    name,
		host:           seg.Host,
		port:           seg.Port,
		dbname:         seg.DBName,
		username:       seg.Username,
		password:       seg.Password,
		minConns:       defaults.MinConnections,
		maxConns:       defaults.MaxConnections,
		idleTimeout:    defaults.IdleTimeout,
		maxLifetime:    defaults.MaxLifetime,
		acquireTimeout: defaults.AcquireTimeout,
		dialTimeout:    defaults.DialTimeout,
		idle:           make([]*SegmentConn, 0),
		active:         make(map[*SegmentConn]struct{}),
		stopCh:         make(chan struct{}),
	}
	sp.cond = sync.NewCond(&sp.mu)

	go sp.reapLoop()
	if sp.minConns > 0 {
		go sp.warmUp()
	}

	return sp
}

// warmUp pre-creates minConns authenticated idle connections so the
// pool is ready for traffic.
func (sp *SegmentPool) warmUp() {
	for i := 0; i < sp.minConns; i++ {
		sp.mu.Lock()
		if sp.closed || sp.total >= sp.minConns {
			sp.mu.Unlock()
			return
		}
		sp.total++
		sp.mu.Unlock()

		sc, err := sp.dial(context.Background())
		if err != nil {
			sp.mu.Lock()
			sp.total--
			sp.mu.Unlock()
			slog.Warn("warm-up connection failed", "index", i+1, "total", sp.minConns, "segment", sp.segmentName, "err", err)
			return
		}

		sp.mu.Lock()
		if sp.closed {
			sp.mu.Unlock()
			sc.Close()
			return
		}
		sc.MarkIdle()
		sp.idle = append(sp.idle, sc)
		sp.mu.Unlock()
	}
	slog.Info("pre-warmed segment connections", "count", sp.minConns, "segment", sp.segmentName)
}

// Acquire gets an authenticated connection from the pool, dialing and
// logging in a new one if needed. The context is used for cancellation
// and deadline propagation.
func (sp *SegmentPool) Acquire(ctx context.Context) (*SegmentConn, error) {
	deadlineAt := time.Now().Add(sp.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadlineAt) {
		deadlineAt = d
	}

	sp.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			sp.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if sp.closed {
			sp.mu.Unlock()
			return nil, fmt.Errorf("pool closed for segment %s", sp.segmentName)
		}

		for len(sp.idle) > 0 {
			sc := sp.idle[len(sp.idle)-1]
			sp.idle = sp.idle[:len(sp.idle)-1]

			if sc.IsExpired(sp.maxLifetime) {
				sc.Close()
				sp.total--
				continue
			}
			if err := sc.Ping(); err != nil {
				sc.Close()
				sp.total--
				continue
			}

			sc.MarkActive()
			sp.active[sc] = struct{}{}
			sp.mu.Unlock()
			return sc, nil
		}

		if sp.total < sp.maxConns {
			sp.total++
			sp.mu.Unlock()

			sc, err := sp.dial(ctx)
			if err != nil {
				sp.mu.Lock()
				sp.total--
				sp.mu.Unlock()
				return nil, fmt.Errorf("connecting to %s:%d for segment %s: %w", sp.host, sp.port, sp.segmentName, err)
			}

			sc.MarkActive()
			sp.mu.Lock()
			sp.active[sc] = struct{}{}
			sp.mu.Unlock()
			return sc, nil
		}

		sp.waiting++
		sp.exhausted++
		cb := sp.onPoolExhausted
		sp.mu.Unlock()

		if cb != nil {
			cb(sp.segmentName)
		}

		sp.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			sp.waiting--
			sp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for segment %s: pool exhausted", sp.acquireTimeout, sp.segmentName)
		}

		timer := time.AfterFunc(remaining, func() {
			sp.cond.Broadcast()
		})
		sp.cond.Wait()
		timer.Stop()

		sp.waiting--

		if sp.closed {
			sp.mu.Unlock()
			return nil, fmt.Errorf("pool closing for segment %s", sp.segmentName)
		}
		if time.Now().After(deadlineAt) {
			sp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for segment %s: pool exhausted", sp.acquireTimeout, sp.segmentName)
		}
	}
}

// InjectTestConn adds a pre-built SegmentConn directly into the idle
// list, bypassing dial/authenticate. Only intended for tests.
func (sp *SegmentPool) InjectTestConn(sc *SegmentConn) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sc.MarkIdle()
	sp.idle = append(sp.idle, sc)
	sp.total++
	sp.cond.Signal()
}

// Return releases a connection back to the pool.
func (sp *SegmentPool) Return(sc *SegmentConn) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	delete(sp.active, sc)

	if sp.closed || sc.IsExpired(sp.maxLifetime) {
		sc.Close()
		sp.total--
		sp.cond.Signal()
		return
	}

	sc.MarkIdle()
	sp.idle = append(sp.idle, sc)
	sp.cond.Signal()
}

// Stats returns current pool statistics.
func (sp *SegmentPool) Stats() Stats {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return Stats{
		Segment:   sp.segmentName,
		Active:    len(sp.active),
		Idle:      len(sp.idle),
		Total:     sp.total,
		Waiting:   sp.waiting,
		MaxConns:  sp.maxConns,
		MinConns:  sp.minConns,
		Exhausted: sp.exhausted,
	}
}

// Drain closes all idle connections and waits for active ones to be
// returned, forcing them closed after a timeout.
func (sp *SegmentPool) Drain() {
	sp.mu.Lock()
	for _, sc := range sp.idle {
		sc.Close()
		sp.total--
	}
	sp.idle = sp.idle[:0]
	activeCount := len(sp.active)
	sp.mu.Unlock()

	if activeCount == 0 {
		return
	}

	slog.Info("draining active segment connections", "count", activeCount, "segment", sp.segmentName)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sp.mu.Lock()
			if len(sp.active) == 0 {
				sp.mu.Unlock()
				return
			}
			sp.mu.Unlock()
		case <-timeout:
			sp.mu.Lock()
			for sc := range sp.active {
				sc.Close()
				sp.total--
			}
			sp.active = make(map[*SegmentConn]struct{})
			sp.mu.Unlock()
			slog.Warn("force-closed active segment connections after drain timeout", "segment", sp.segmentName)
			return
		}
	}
}

// Close shuts down the pool.
func (sp *SegmentPool) Close() {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}
	sp.closed = true
	close(sp.stopCh)
	sp.cond.Broadcast()
	sp.mu.Unlock()

	sp.Drain()
}

func (sp *SegmentPool) dial(ctx context.Context) (*SegmentConn, error) {
	addr := net.JoinHostPort(sp.host, fmt.Sprintf("%d", sp.port))
	dialer := net.Dialer{Timeout: sp.dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sc := NewSegmentConn(conn, sp.segmentName, sp)

	if err := sp.authenticateMySQL(sc); err != nil {
		sc.Close()
		return nil, fmt.Errorf("MySQL auth during dial: %w", err)
	}
	return sc, nil
}

// authenticateMySQL performs the MySQL connection phase
// (Protocol::Handshake v10) on a raw connection, producing a
// ready-to-query connection authenticated with mysql_native_password.
func (sp *SegmentPool) authenticateMySQL(sc *SegmentConn) error {
	conn := sc.Conn()

	pkt, _, err := readMySQLPoolPacket(conn)
	if err != nil {
		return fmt.Errorf("reading server handshake: %w", err)
	}
	if len(pkt) < 1 {
		return fmt.Errorf("empty server handshake")
	}
	if pkt[0] == 0xff {
		return fmt.Errorf("server sent error on connect")
	}

	pos := 1
	for pos < len(pkt) && pkt[pos] != 0 {
		pos++
	}
	pos++
	if pos+4 > len(pkt) {
		return fmt.Errorf("handshake packet too short")
	}
	pos += 4

	if pos+8 > len(pkt) {
		return fmt.Errorf("handshake packet too short for auth data 1")
	}
	authData := make([]byte, 0, 20)
	authData = append(authData, pkt[pos:pos+8]...)
	pos += 8
	pos++ // filler

	if pos+2 > len(pkt) {
		return fmt.Errorf("handshake packet too short for capability flags")
	}
	capLow := uint32(binary.LittleEndian.Uint16(pkt[pos : pos+2]))
	pos += 2

	if pos+3 > len(pkt) {
		return fmt.Errorf("handshake packet too short for charset/status")
	}
	pos += 3

	if pos+2 > len(pkt) {
		return fmt.Errorf("handshake packet too short for capability flags high")
	}
	capHigh := uint32(binary.LittleEndian.Uint16(pkt[pos:pos+2])) << 16
	capFlags := capLow | capHigh
	pos += 2

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len

	const clientPluginAuth = uint32(1 << 19)
	pluginName := "mysql_native_password"
	if capFlags&clientPluginAuth != 0 && pos < len(pkt) {
		end := pos
		for end < len(pkt) && pkt[end] != 0 {
			end++
		}
		pluginName = string(pkt[pos:end])
	}

	const (
		clientLongPassword     = uint32(1)
		clientConnectWithDB    = uint32(8)
		clientProtocol41       = uint32(512)
		clientSecureConnection = uint32(32768)
	)
	clientCaps := clientLongPassword | clientProtocol41 | clientSecureConnection | clientPluginAuth | clientConnectWithDB

	var authResp []byte
	switch pluginName {
	case "mysql_native_password":
		authResp = mysqlNativePasswordHash([]byte(sp.password), authData)
	default:
		authResp = []byte{}
	}

	var resp []byte
	capBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(capBuf, clientCaps)
	resp = append(resp, capBuf...)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00)
	resp = append(resp, 0x21)
	resp = append(resp, make([]byte, 23)...)
	resp = append(resp, []byte(sp.username)...)
	resp = append(resp, 0)
	resp = append(resp, byte(len(authResp)))
	resp = append(resp, authResp...)
	resp = append(resp, []byte(sp.dbname)...)
	resp = append(resp, 0)
	resp = append(resp, []byte("mysql_native_password")...)
	resp = append(resp, 0)

	if err := writeMySQLPoolPacket(conn, resp, 1); err != nil {
		return fmt.Errorf("sending handshake response: %w", err)
	}

	pkt, _, err = readMySQLPoolPacket(conn)
	if err != nil {
		return fmt.Errorf("reading auth result: %w", err)
	}
	if len(pkt) < 1 {
		return fmt.Errorf("empty auth result")
	}

	switch pkt[0] {
	case 0x00:
		sc.SetAuthenticated()
		return nil
	case 0xfe:
		if len(pkt) < 2 {
			return fmt.Errorf("malformed AuthSwitchRequest")
		}
		nameEnd := 1
		for nameEnd < len(pkt) && pkt[nameEnd] != 0 {
			nameEnd++
		}
		switchPlugin := string(pkt[1:nameEnd])
		var switchData []byte
		if nameEnd+1 < len(pkt) {
			switchData = pkt[nameEnd+1:]
			if len(switchData) > 0 && switchData[len(switchData)-1] == 0 {
				switchData = switchData[:len(switchData)-1]
			}
		}
		var switchResp []byte
		switch switchPlugin {
		case "mysql_native_password":
			switchResp = mysqlNativePasswordHash([]byte(sp.password), switchData)
		default:
			return fmt.Errorf("unsupported auth plugin switch: %s", switchPlugin)
		}
		if err := writeMySQLPoolPacket(conn, switchResp, 3); err != nil {
			return fmt.Errorf("sending auth switch response: %w", err)
		}
		pkt, _, err = readMySQLPoolPacket(conn)
		if err != nil {
			return fmt.Errorf("reading auth switch result: %w", err)
		}
		if len(pkt) < 1 || pkt[0] != 0x00 {
			return fmt.Errorf("MySQL auth failed after plugin switch")
		}
		sc.SetAuthenticated()
		return nil
	case 0xff:
		return fmt.Errorf("MySQL auth failed: %s", parseMySQLError(pkt))
	default:
		return fmt.Errorf("unexpected auth response byte: 0x%02x", pkt[0])
	}
}

// mysqlNativePasswordHash computes the mysql_native_password hash:
// SHA1(password) XOR SHA1(authData + SHA1(SHA1(password))).
func mysqlNativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password) //nolint:gosec
	h2 := sha1.Sum(h1[:])    //nolint:gosec
	h := sha1.New()          //nolint:gosec
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	result := make([]byte, 20)
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

func readMySQLPoolPacket(conn net.Conn) (payload []byte, seq byte, err error) {
	hdr := make([]byte, 4)
	if _, err = io.ReadFull(conn, hdr); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	seq = hdr[3]
	if length == 0 {
		return []byte{}, seq, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(conn, payload); err != nil {
		return nil, seq, err
	}
	return payload, seq, nil
}

func writeMySQLPoolPacket(conn net.Conn, payload []byte, seq byte) error {
	hdr := make([]byte, 4)
	length := len(payload)
	hdr[0] = byte(length)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length >> 16)
	hdr[3] = seq
	buf := append(hdr, payload...)
	_, err := conn.Write(buf)
	return err
}

func parseMySQLError(pkt []byte) string {
	if len(pkt) < 9 {
		return "unknown error"
	}
	return string(pkt[9:])
}

func (sp *SegmentPool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sp.reapIdle()
		case <-sp.stopCh:
			return
		}
	}
}

func (sp *SegmentPool) reapIdle() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if len(sp.idle) <= sp.minConns {
		return
	}
	kept := make([]*SegmentConn, 0, len(sp.idle))
	excess := len(sp.idle) - sp.minConns
	for i, sc := range sp.idle {
		if i < excess && (sc.IsIdle(sp.idleTimeout) || sc.IsExpired(sp.maxLifetime)) {
			sc.Close()
			sp.total--
		} else {
			kept = append(kept, sc)
		}
	}
	sp.idle = kept
}

// StatsCallback is called periodically with pool stats for each segment.
type StatsCallback func(stats Stats)

// Manager manages connection pools for all segments in the cluster.
type Manager struct {
	mu              sync.RWMutex
	pools           map[string]*SegmentPool
	defaults        config.PoolDefaults
	onPoolExhausted OnPoolExhausted
	statsStopCh     chan struct{}
	closeOnce       sync.Once
}

// NewManager creates a new pool manager.
func NewManager(defaults config.PoolDefaults) *Manager {
	return &Manager{
		pools:       make(map[string]*SegmentPool),
		defaults:    defaults,
		statsStopCh: make(chan struct{}),
	}
}

// SetOnPoolExhausted sets the callback for pool exhaustion events.
// Must be called before any pools are created.
func (m *Manager) SetOnPoolExhausted(cb OnPoolExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPoolExhausted = cb
}

// StartStatsLoop starts a periodic goroutine that calls the stats
// callback for each pool.
func (m *Manager) StartStatsLoop(interval time.Duration, cb StatsCallback) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statsStopCh:
				return
			}
		}
	}()
}

// GetOrCreate returns the pool for a segment, creating it lazily.
func (m *Manager) GetOrCreate(name string, seg config.Segment) *SegmentPool {
	m.mu.RLock()
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		return p
	}

	p := NewSegmentPool(name, seg, m.defaults)
	p.onPoolExhausted = m.onPoolExhausted
	m.pools[name] = p
	slog.Info("created segment pool", "segment", name, "host", seg.Host, "port", seg.Port)
	return p
}

// Get returns the pool for a segment if it exists.
func (m *Manager) Get(name string) (*SegmentPool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Remove closes and removes the pool for a segment.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	p, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, name)
	m.mu.Unlock()

	p.Close()
	slog.Info("removed segment pool", "segment", name)
	return true
}

// AllStats returns stats for all segment pools.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// SegmentStats returns stats for a specific segment pool.
func (m *Manager) SegmentStats(name string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return Stats{}, false
	}
	return p.Stats(), true
}

// Close shuts down all pools and stops the stats loop. Safe to call
// multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.statsStopCh)
	})

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*SegmentPool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
