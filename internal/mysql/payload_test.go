package mysql

import (
	"bytes"
	"errors"
	"testing"
)

func TestIntLenencRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 0xFA, 0xFB, 0xFC, 0xFFFF, 0x10000, 0xFFFFFF, 0x1000000, 1 << 40, ^uint64(0)}

	for _, v := range cases {
		p := NewPayloadForWrite()
		p.PutIntLenenc(v)

		got, isNull, err := NewPayload(p.Bytes()).GetIntLenenc()
		if err != nil {
			t.Fatalf("v=%d: GetIntLenenc: %v", v, err)
		}
		if isNull {
			t.Fatalf("v=%d: unexpected null", v)
		}
		if got != v {
			t.Errorf("v=%d: round trip got %d", v, got)
		}
	}
}

func TestIntLenencNullMarker(t *testing.T) {
	p := NewPayload([]byte{NullLenencMarker})
	v, isNull, err := p.GetIntLenenc()
	if err != nil {
		t.Fatalf("GetIntLenenc: %v", err)
	}
	if !isNull || v != 0 {
		t.Errorf("expected (0, true), got (%d, %v)", v, isNull)
	}
}

func TestStringLenencRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello world"),
		bytes.Repeat([]byte("x"), 70000), // forces the 3-byte lenenc branch
	}

	for _, s := range cases {
		p := NewPayloadForWrite()
		p.PutStringLenenc(s)

		got, err := NewPayload(p.Bytes()).GetStringLenenc()
		if err != nil {
			t.Fatalf("len=%d: GetStringLenenc: %v", len(s), err)
		}
		if !bytes.Equal(got, s) {
			t.Errorf("len=%d: round trip mismatch", len(s))
		}
	}
}

func TestStringLenencNull(t *testing.T) {
	p := NewPayloadForWrite()
	p.PutU8(NullLenencMarker)

	got, err := NewPayload(p.Bytes()).GetStringLenenc()
	if err != nil {
		t.Fatalf("GetStringLenenc: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for NULL lenenc string, got %v", got)
	}
}

func TestStringNulRoundTrip(t *testing.T) {
	p := NewPayloadForWrite()
	p.PutStringNul([]byte("root"))
	p.PutStringNul([]byte(""))

	r := NewPayload(p.Bytes())
	got, err := r.GetStringNul()
	if err != nil || string(got) != "root" {
		t.Fatalf("first GetStringNul: %q, %v", got, err)
	}
	got, err = r.GetStringNul()
	if err != nil || string(got) != "" {
		t.Fatalf("second GetStringNul: %q, %v", got, err)
	}
}

func TestStringNulMissingTerminator(t *testing.T) {
	p := NewPayload([]byte("no terminator here"))
	if _, err := p.GetStringNul(); !errors.Is(err, ErrDecodeViolation) {
		t.Errorf("expected ErrDecodeViolation, got %v", err)
	}
}

func TestUintLERoundTrip(t *testing.T) {
	for n := 1; n <= 8; n++ {
		var v uint64 = 0x0102030405060708 & ((1 << (8 * uint(n))) - 1)
		if n == 8 {
			v = 0x0102030405060708
		}

		p := NewPayloadForWrite()
		switch n {
		case 1:
			p.PutU8(byte(v))
		case 2:
			p.PutU16LE(uint16(v))
		case 3:
			p.PutU24LE(uint32(v))
		case 4:
			p.PutU32LE(uint32(v))
		case 8:
			p.PutU64LE(v)
		default:
			continue
		}

		got, err := NewPayload(p.Bytes()).GetUintLE(n)
		if err != nil {
			t.Fatalf("n=%d: GetUintLE: %v", n, err)
		}
		if got != v {
			t.Errorf("n=%d: expected %#x, got %#x", n, v, got)
		}
	}
}

func TestGetUintLEUnderflow(t *testing.T) {
	p := NewPayload([]byte{1, 2})
	if _, err := p.GetUintLE(4); !errors.Is(err, ErrDecodeViolation) {
		t.Errorf("expected ErrDecodeViolation, got %v", err)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	p := NewPayloadForWrite()
	p.PutFloat32LE(3.14)
	p.PutFloat64LE(-2.71828)

	r := NewPayload(p.Bytes())
	f32, err := r.GetFloat32LE()
	if err != nil || f32 != 3.14 {
		t.Errorf("GetFloat32LE: %v, %v", f32, err)
	}
	f64, err := r.GetFloat64LE()
	if err != nil || f64 != -2.71828 {
		t.Errorf("GetFloat64LE: %v, %v", f64, err)
	}
}

func TestRemainingBytes(t *testing.T) {
	p := NewPayload([]byte{1, 2, 3, 4, 5})
	p.GetUintLE(2)

	rest := p.RemainingBytes()
	if !bytes.Equal(rest, []byte{3, 4, 5}) {
		t.Errorf("expected [3 4 5], got %v", rest)
	}
	if p.Len() != 0 {
		t.Errorf("expected Len 0 after consuming remainder, got %d", p.Len())
	}
}
