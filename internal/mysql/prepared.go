package mysql

import "fmt"

// StmtPrepareOK is the COM_STMT_PREPARE_OK response header (§4.3); the
// column-definition/EOF blocks that follow it are emitted separately by
// the command handler.
type StmtPrepareOK struct {
	StatementID     uint32
	ColumnsCount    uint16
	ParametersCount uint16
	WarningCount    uint16
}

func (s *StmtPrepareOK) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutU8(HeaderOK)
	p.PutU32LE(s.StatementID)
	p.PutU16LE(s.ColumnsCount)
	p.PutU16LE(s.ParametersCount)
	p.PutU8(0) // reserved
	p.PutU16LE(s.WarningCount)
	return p.Bytes()
}

// StmtExecuteRequest is the decoded COM_STMT_EXECUTE command body
// (command byte already stripped).
type StmtExecuteRequest struct {
	StatementID     uint32
	Flags           byte
	IterationCount  uint32
	NewParamsBound  bool
	ParamTypes      []ParamType
	Params          []ParamValue
}

// DecodeStmtExecute parses a COM_STMT_EXECUTE body per spec.md §4.3/§4.4.
// parametersCount comes from the session's cached PreparedStmtCtx;
// cachedTypes is that statement's previously bound types, reused when
// the new-parameters-bound flag is 0.
func DecodeStmtExecute(buf []byte, parametersCount uint16, cachedTypes []ParamType) (*StmtExecuteRequest, error) {
	p := NewPayload(buf)
	req := &StmtExecuteRequest{}

	stmtID, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}
	req.StatementID = uint32(stmtID)

	flags, err := p.GetUintLE(1)
	if err != nil {
		return nil, err
	}
	req.Flags = byte(flags)

	iter, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}
	req.IterationCount = uint32(iter)
	if req.IterationCount != 1 {
		return nil, fmt.Errorf("%w: COM_STMT_EXECUTE iteration_count must be 1, got %d", ErrDecodeViolation, req.IterationCount)
	}

	if parametersCount == 0 {
		return req, nil
	}

	bitmapLen := nullBitmapLen(int(parametersCount), 0)
	bitmap, err := p.GetBytes(bitmapLen)
	if err != nil {
		return nil, err
	}

	newBoundFlag, err := p.GetUintLE(1)
	if err != nil {
		return nil, err
	}
	req.NewParamsBound = newBoundFlag == 1

	types := cachedTypes
	if req.NewParamsBound {
		types = make([]ParamType, parametersCount)
		for i := range types {
			ct, err := p.GetUintLE(1)
			if err != nil {
				return nil, err
			}
			unsigned, err := p.GetUintLE(1)
			if err != nil {
				return nil, err
			}
			types[i] = ParamType{ColumnType: ColumnType(ct), Unsigned: unsigned != 0}
		}
	}
	req.ParamTypes = types

	nulls := DecodeNullBitmap(bitmap, int(parametersCount), 0)
	req.Params = make([]ParamValue, parametersCount)
	for i := 0; i < int(parametersCount); i++ {
		if nulls[i] {
			req.Params[i] = NullValue()
			continue
		}
		if i >= len(types) {
			return nil, fmt.Errorf("%w: no parameter type known for position %d", ErrInvariant, i)
		}
		v, err := ReadBinaryParam(p, types[i].ColumnType, types[i].Unsigned)
		if err != nil {
			return nil, err
		}
		req.Params[i] = v
	}

	return req, nil
}

// DecodeStmtID decodes the 4-byte statement id from COM_STMT_CLOSE and
// COM_STMT_RESET bodies.
func DecodeStmtID(buf []byte) (uint32, error) {
	p := NewPayload(buf)
	id, err := p.GetUintLE(4)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}
