package mysql

import (
	"sync"
	"sync/atomic"
)

// Phase is one of the three connection-level states before the command
// loop (spec.md §3).
type Phase int

const (
	PhaseInitialHandshake Phase = iota
	PhaseAuthFastPath
	PhaseAuthMethodMismatch
	PhaseCommand
)

var nextSessionID uint64
var nextStatementID uint64

// newSessionID and newStatementID are the two process-wide monotonic
// counters named in spec.md §5, each an atomic increment with relaxed
// ordering — no other state is shared between connections.
func newSessionID() uint64   { return atomic.AddUint64(&nextSessionID, 1) }
func newStatementID() uint64 { return atomic.AddUint64(&nextStatementID, 1) }

// PreparedStmtCtx is the prepared-statement context of spec.md §3.
// ParameterTypes is empty until the first COM_STMT_EXECUTE that carries
// the new-parameters-bound flag; later executes reuse it (I5).
type PreparedStmtCtx struct {
	StatementID     uint64
	ParametersCount uint16
	ColumnsCount    uint16
	SQL             []byte
	ParameterTypes  []ParamType
}

// ParamType pairs a column type with its unsigned flag, as stored per
// prepared parameter.
type ParamType struct {
	ColumnType ColumnType
	Unsigned   bool
}

// Session is the per-connection mutable state owned by the connection
// driver (spec.md §3/§4.5). One Session exists per TCP connection and is
// never shared between goroutines beyond the connection's own task; the
// mutex makes every accessor safe for concurrent use regardless.
type Session struct {
	mu sync.RWMutex

	id         uint64
	authorized bool
	phase      Phase

	scramble1 [8]byte
	scramble2 [12]byte

	userName     string
	database     string
	authResponse []byte

	preparedBySQL map[string]uint64
	preparedByID  map[uint64]*PreparedStmtCtx
}

// NewSession creates a session with a freshly assigned id and scramble.
func NewSession() (*Session, error) {
	s := &Session{
		id:            newSessionID(),
		phase:         PhaseInitialHandshake,
		preparedBySQL: make(map[string]uint64),
		preparedByID:  make(map[uint64]*PreparedStmtCtx),
	}
	if err := randomizeScramble(s.scramble1[:], s.scramble2[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Authorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// SetAuthorized implements I4: conn.go sets it together with the move to
// PhaseCommand, and no SetPhase call follows once the session is in
// PhaseCommand.
func (s *Session) SetAuthorized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = v
}

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase advances the phase. Callers must respect I2 (no backward
// transitions); the session does not re-validate monotonicity itself,
// matching the teacher's pattern of trusting single-writer callers
// (internal/pool's state fields).
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) Scramble() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	full := make([]byte, 0, 20)
	full = append(full, s.scramble1[:]...)
	full = append(full, s.scramble2[:]...)
	return full
}

func (s *Session) RegenerateScramble() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return randomizeScramble(s.scramble1[:], s.scramble2[:])
}

func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

func (s *Session) SetUserName(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userName = v
}

func (s *Session) Database() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

func (s *Session) SetDatabase(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = v
}

func (s *Session) AuthResponse() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authResponse
}

func (s *Session) SetAuthResponse(v []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authResponse = v
}

// CachePrepared inserts a new prepared statement into both indices
// (I3), reusing an existing statement id if sql is already cached.
func (s *Session) CachePrepared(sql string, parametersCount, columnsCount uint16) *PreparedStmtCtx {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.preparedBySQL[sql]; ok {
		return s.preparedByID[id]
	}

	id := newStatementID()
	ctx := &PreparedStmtCtx{
		StatementID:     id,
		ParametersCount: parametersCount,
		ColumnsCount:    columnsCount,
		SQL:             []byte(sql),
	}
	s.preparedBySQL[sql] = id
	s.preparedByID[id] = ctx
	return ctx
}

// ForgetPrepared removes a statement symmetrically from both indices
// (I3). Returns false if the id was not present.
func (s *Session) ForgetPrepared(statementID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.preparedByID[statementID]
	if !ok {
		return false
	}
	delete(s.preparedByID, statementID)
	delete(s.preparedBySQL, string(ctx.SQL))
	return true
}

func (s *Session) GetPreparedBySQL(sql string) (*PreparedStmtCtx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.preparedBySQL[sql]
	if !ok {
		return nil, false
	}
	ctx, ok := s.preparedByID[id]
	return ctx, ok
}

func (s *Session) GetPreparedByID(statementID uint64) (*PreparedStmtCtx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.preparedByID[statementID]
	return ctx, ok
}

func (s *Session) GetParametersCount(statementID uint64) (uint16, bool) {
	ctx, ok := s.GetPreparedByID(statementID)
	if !ok {
		return 0, false
	}
	return ctx.ParametersCount, true
}

func (s *Session) GetParameterTypes(statementID uint64) ([]ParamType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.preparedByID[statementID]
	if !ok {
		return nil, false
	}
	return ctx.ParameterTypes, true
}

// SetParameterTypes stores the types carried by a new-parameters-bound
// COM_STMT_EXECUTE (I5: len must be 0 or parameters_count).
func (s *Session) SetParameterTypes(statementID uint64, types []ParamType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.preparedByID[statementID]
	if !ok {
		return false
	}
	ctx.ParameterTypes = types
	return true
}

// PreparedCount reports the size of both indices for P5 (they must
// always agree).
func (s *Session) PreparedCount() (bySQL, byID int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.preparedBySQL), len(s.preparedByID)
}
