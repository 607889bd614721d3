package mysql

import "fmt"

// OKPacket is the generic success response (§4.3).
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         string
}

func NewOK() *OKPacket {
	return &OKPacket{StatusFlags: ServerStatusAutocommit}
}

func (o *OKPacket) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutU8(HeaderOK)
	p.PutIntLenenc(o.AffectedRows)
	p.PutIntLenenc(o.LastInsertID)
	p.PutU16LE(o.StatusFlags)
	p.PutU16LE(o.Warnings)
	if o.Info != "" {
		p.PutFixedBytes([]byte(o.Info))
	}
	return p.Bytes()
}

// EOFPacket marks the boundary after a column-definition or row block.
type EOFPacket struct {
	Warnings    uint16
	StatusFlags uint16
}

func NewEOF() *EOFPacket {
	return &EOFPacket{StatusFlags: ServerStatusAutocommit}
}

func (e *EOFPacket) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutU8(HeaderEOF)
	p.PutU16LE(e.Warnings)
	p.PutU16LE(e.StatusFlags)
	return p.Bytes()
}

// EncodeServerError encodes a ServerError as an ERR_Packet.
func EncodeServerError(e *ServerError) []byte {
	p := NewPayloadForWrite()
	p.PutU8(HeaderErr)
	p.PutU16LE(e.Code)
	p.PutFixedBytes([]byte{'#'})
	p.PutFixedBytes([]byte(e.SQLState))
	p.PutFixedBytes([]byte(e.Message))
	return p.Bytes()
}

// EncodeFieldCount encodes the field-count packet that precedes a
// column-definition block.
func EncodeFieldCount(n uint64) []byte {
	p := NewPayloadForWrite()
	p.PutIntLenenc(n)
	return p.Bytes()
}

// ColumnDefinition41 describes one result-set column (§4.3).
type ColumnDefinition41 struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	CharacterSet uint16
	ColumnLength uint32
	ColumnType   ColumnType
	Flags        uint16
	Decimals     byte
}

func NewPlaceholderColumn(name string) *ColumnDefinition41 {
	return &ColumnDefinition41{
		Catalog:      "def",
		Name:         name,
		OrgName:      name,
		CharacterSet: DefaultCharset,
		ColumnType:   TypeVarString,
	}
}

// DecodeColumnDefinition41 is the inverse of Encode, used to learn a
// backend-reported column's wire type when relaying a text-protocol
// result set back to the client as a binary one (§4.4).
func DecodeColumnDefinition41(frame []byte) (*ColumnDefinition41, error) {
	p := NewPayload(frame)
	var c ColumnDefinition41

	next := func() (string, error) {
		b, err := p.GetStringLenenc()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	var err error
	if c.Catalog, err = next(); err != nil {
		return nil, err
	}
	if c.Schema, err = next(); err != nil {
		return nil, err
	}
	if c.Table, err = next(); err != nil {
		return nil, err
	}
	if c.OrgTable, err = next(); err != nil {
		return nil, err
	}
	if c.Name, err = next(); err != nil {
		return nil, err
	}
	if c.OrgName, err = next(); err != nil {
		return nil, err
	}
	if _, err := p.GetUintLE(1); err != nil { // length of fixed fields
		return nil, err
	}
	charset, err := p.GetUintLE(2)
	if err != nil {
		return nil, err
	}
	c.CharacterSet = uint16(charset)
	length, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}
	c.ColumnLength = uint32(length)
	typ, err := p.GetUintLE(1)
	if err != nil {
		return nil, err
	}
	c.ColumnType = ColumnType(typ)
	flags, err := p.GetUintLE(2)
	if err != nil {
		return nil, err
	}
	c.Flags = uint16(flags)
	decimals, err := p.GetUintLE(1)
	if err != nil {
		return nil, err
	}
	c.Decimals = byte(decimals)
	return &c, nil
}

func (c *ColumnDefinition41) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutStringLenenc([]byte(c.Catalog))
	p.PutStringLenenc([]byte(c.Schema))
	p.PutStringLenenc([]byte(c.Table))
	p.PutStringLenenc([]byte(c.OrgTable))
	p.PutStringLenenc([]byte(c.Name))
	p.PutStringLenenc([]byte(c.OrgName))
	p.PutU8(0x0C) // length of fixed fields
	p.PutU16LE(c.CharacterSet)
	p.PutU32LE(c.ColumnLength)
	p.PutU8(byte(c.ColumnType))
	p.PutU16LE(c.Flags)
	p.PutU8(c.Decimals)
	p.PutU16LE(0) // filler
	return p.Bytes()
}

// EncodeTextRow encodes one text-protocol result row: each cell is either
// the NULL marker 0xFB or a lenenc string of its raw textual bytes.
func EncodeTextRow(cells []*[]byte) []byte {
	p := NewPayloadForWrite()
	for _, c := range cells {
		if c == nil {
			p.PutU8(NullLenencMarker)
			continue
		}
		p.PutStringLenenc(*c)
	}
	return p.Bytes()
}

// DecodeTextRow is the inverse of EncodeTextRow: n cells, each a lenenc
// string or the 0xFB NULL marker.
func DecodeTextRow(frame []byte, n int) ([]*[]byte, error) {
	p := NewPayload(frame)
	cells := make([]*[]byte, n)
	for i := 0; i < n; i++ {
		b, err := p.GetStringLenenc()
		if err != nil {
			return nil, fmt.Errorf("mysql: decode text row cell %d: %w", i, err)
		}
		if b == nil {
			continue
		}
		cell := b
		cells[i] = &cell
	}
	return cells, nil
}

// nullBitmapLen computes the byte length of a null bitmap covering n
// columns at the given bit offset (0 for COM_STMT_EXECUTE params, 2 for
// binary result rows).
func nullBitmapLen(n, offset int) int {
	return (n + offset + 7) / 8
}

func setNullBit(bitmap []byte, i, offset int) {
	byteIdx := (i + offset) / 8
	bitIdx := uint((i + offset) % 8)
	bitmap[byteIdx] |= 1 << bitIdx
}

func isNullBitSet(bitmap []byte, i, offset int) bool {
	byteIdx := (i + offset) / 8
	bitIdx := uint((i + offset) % 8)
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<bitIdx) != 0
}

// EncodeBinaryRow encodes one binary-protocol result row: a 0x00 header,
// a null bitmap at offset 2, then each non-null value per the binary
// parameter codec (§4.4).
func EncodeBinaryRow(values []ParamValue, types []ColumnType, unsigned []bool) []byte {
	p := NewPayloadForWrite()
	p.PutU8(0x00)

	bitmap := make([]byte, nullBitmapLen(len(values), 2))
	for i, v := range values {
		if v.IsNull() {
			setNullBit(bitmap, i, 2)
		}
	}
	p.PutFixedBytes(bitmap)

	for i, v := range values {
		if v.IsNull() {
			continue
		}
		WriteBinaryParam(p, types[i], unsigned[i], v)
	}
	return p.Bytes()
}
