package mysql

import (
	"context"
	"fmt"
)

// Engine is the narrow interface the connection driver dispatches
// ComQuery/ComStmtPrepare/ComStmtExecute through. It is the seam between
// the wire-protocol core (this package) and the SQL analysis/execution
// stack (internal/sqlrewrite, internal/planner) — mirroring the
// teacher-adjacent SQLEngine/SQLDispatcher split so the core never
// imports a SQL parser directly (spec.md §1 treats the parser and the
// planner as external collaborators named only at their interface).
type Engine interface {
	// ExecuteQuery runs sql under the text protocol and returns the
	// ordered response payloads (field-count/columns/EOF/rows/EOF per
	// result set, or one OK per non-result statement).
	ExecuteQuery(ctx context.Context, session *Session, sql string) ([][]byte, error)

	// Prepare analyses sql enough to report its parameter/column shape
	// for COM_STMT_PREPARE_OK. The stub is free to report 1/1 when the
	// shape can't be determined statically (spec.md §4.6).
	Prepare(ctx context.Context, sql string) (parametersCount, columnsCount uint16, err error)

	// ExecuteStatement runs a previously prepared statement under the
	// binary protocol with bound parameter values substituted in.
	ExecuteStatement(ctx context.Context, session *Session, stmt *PreparedStmtCtx, params []ParamValue) ([][]byte, error)
}

// HandleAuthFastPath decodes the client's HandshakeResponse41 and decides
// whether a plugin mismatch requires an auth-switch round trip
// (spec.md §4.6).
func HandleAuthFastPath(session *Session, body []byte) (responses [][]byte, err error) {
	resp, err := DecodeHandshakeResponse41(body)
	if err != nil {
		return nil, err
	}
	session.SetUserName(resp.Username)
	session.SetAuthResponse(resp.AuthResponse)
	session.SetDatabase(resp.Database)

	if resp.Capabilities&ClientPluginAuth != 0 && resp.AuthPluginName == AuthPluginMysqlNativePassword {
		if err := session.RegenerateScramble(); err != nil {
			return nil, err
		}
		session.SetPhase(PhaseAuthMethodMismatch)
		req := &AuthSwitchRequest{
			PluginName: AuthPluginMysqlNativePassword,
			Scramble:   session.Scramble(),
		}
		return [][]byte{req.Encode()}, nil
	}

	return nil, nil
}

// HandleAuthMethodMismatch decodes the client's auth-switch response.
func HandleAuthMethodMismatch(session *Session, body []byte) error {
	session.SetAuthResponse(DecodeAuthSwitchResponse(body))
	return nil
}

// HandleComQuery implements C6's ComQuery handler.
func HandleComQuery(ctx context.Context, session *Session, body []byte, engine Engine) ([][]byte, error) {
	sql := string(body)
	rows, err := engine.ExecuteQuery(ctx, session, sql)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HandleComStmtPrepare implements C6's ComStmtPrepare handler.
func HandleComStmtPrepare(ctx context.Context, session *Session, body []byte, engine Engine) ([][]byte, error) {
	sql := string(body)

	if cached, ok := session.GetPreparedBySQL(sql); ok {
		return stmtPrepareResponse(cached), nil
	}

	paramsCount, columnsCount, err := engine.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	ctx2 := session.CachePrepared(sql, paramsCount, columnsCount)
	return stmtPrepareResponse(ctx2), nil
}

func stmtPrepareResponse(ctx *PreparedStmtCtx) [][]byte {
	var out [][]byte
	out = append(out, (&StmtPrepareOK{
		StatementID:     uint32(ctx.StatementID),
		ColumnsCount:    ctx.ColumnsCount,
		ParametersCount: ctx.ParametersCount,
	}).Encode())

	if ctx.ParametersCount > 0 {
		for i := uint16(0); i < ctx.ParametersCount; i++ {
			out = append(out, NewPlaceholderColumn("?").Encode())
		}
		out = append(out, NewEOF().Encode())
	}
	if ctx.ColumnsCount > 0 {
		for i := uint16(0); i < ctx.ColumnsCount; i++ {
			out = append(out, NewPlaceholderColumn("?").Encode())
		}
		out = append(out, NewEOF().Encode())
	}
	return out
}

// HandleComStmtExecute implements C6's ComStmtExecute handler.
func HandleComStmtExecute(ctx context.Context, session *Session, body []byte, engine Engine) ([][]byte, error) {
	p := NewPayload(body)
	stmtID, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}

	stmtCtx, ok := session.GetPreparedByID(stmtID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown statement id %d", ErrInvariant, stmtID)
	}

	cachedTypes, _ := session.GetParameterTypes(stmtID)
	req, err := DecodeStmtExecute(body, stmtCtx.ParametersCount, cachedTypes)
	if err != nil {
		return nil, err
	}
	if req.NewParamsBound {
		if !session.SetParameterTypes(stmtID, req.ParamTypes) {
			return nil, fmt.Errorf("%w: statement id %d disappeared mid-execute", ErrInvariant, stmtID)
		}
	}

	return engine.ExecuteStatement(ctx, session, stmtCtx, req.Params)
}

// HandleComStmtClose implements C6's ComStmtClose handler: no response.
func HandleComStmtClose(session *Session, body []byte) error {
	id, err := DecodeStmtID(body)
	if err != nil {
		return err
	}
	session.ForgetPrepared(uint64(id))
	return nil
}

// HandleComStmtReset implements C6's ComStmtReset handler.
func HandleComStmtReset(body []byte) ([][]byte, error) {
	if _, err := DecodeStmtID(body); err != nil {
		return nil, err
	}
	return [][]byte{NewOK().Encode()}, nil
}

// HandleComPing and HandleComQuit both just reply OK; COM_QUIT's
// connection-closing side effect is the driver's responsibility.
func HandleComPing() [][]byte {
	return [][]byte{NewOK().Encode()}
}

func HandleComQuit() [][]byte {
	return [][]byte{NewOK().Encode()}
}

// Dispatch routes a command-phase packet to its handler by command byte,
// per spec.md §9's guidance to use a dispatch table of stateless
// handlers rather than per-call handler objects. closeAfter tells the
// driver to close the connection once the responses are flushed.
func Dispatch(ctx context.Context, session *Session, cmd byte, body []byte, engine Engine) (responses [][]byte, closeAfter bool, err error) {
	switch cmd {
	case ComQuery:
		responses, err = HandleComQuery(ctx, session, body, engine)
		return responses, false, err
	case ComStmtPrepare:
		responses, err = HandleComStmtPrepare(ctx, session, body, engine)
		return responses, false, err
	case ComStmtExecute:
		responses, err = HandleComStmtExecute(ctx, session, body, engine)
		return responses, false, err
	case ComStmtClose:
		err = HandleComStmtClose(session, body)
		return nil, false, err
	case ComStmtReset:
		responses, err = HandleComStmtReset(body)
		return responses, false, err
	case ComPing:
		return HandleComPing(), false, nil
	case ComQuit:
		return HandleComQuit(), true, nil
	default:
		return nil, true, fmt.Errorf("%w: command byte 0x%02x", ErrUnsupportedCommand, cmd)
	}
}
