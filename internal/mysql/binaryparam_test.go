package mysql

import "testing"

func TestNullBitmapRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		n      int
		offset int
		nulls  []bool
	}{
		{"empty", 0, 0, nil},
		{"single_not_null", 1, 0, []bool{false}},
		{"single_null", 1, 0, []bool{true}},
		{"eight_alternating", 8, 0, []bool{true, false, true, false, true, false, true, false}},
		{"nine_spans_byte", 9, 0, []bool{true, true, true, true, true, true, true, true, true}},
		{"result_row_offset", 5, 2, []bool{false, true, false, true, false}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			bitmap := EncodeNullBitmap(c.nulls, c.offset)
			got := DecodeNullBitmap(bitmap, c.n, c.offset)

			if len(c.nulls) == 0 {
				return
			}
			for i, want := range c.nulls {
				if got[i] != want {
					t.Errorf("position %d: want %v, got %v", i, want, got[i])
				}
			}
		})
	}
}

func TestBinaryParamRoundTripIntegers(t *testing.T) {
	cases := []struct {
		name     string
		colType  ColumnType
		unsigned bool
		v        ParamValue
	}{
		{"tiny_signed", TypeTiny, false, IntValue(-42)},
		{"tiny_unsigned", TypeTiny, true, UIntValue(200)},
		{"short_signed", TypeShort, false, IntValue(-1000)},
		{"long_signed", TypeLong, false, IntValue(-70000)},
		{"longlong_unsigned", TypeLongLong, true, UIntValue(1 << 40)},
		{"float", TypeFloat, false, FloatValue(3.5)},
		{"double", TypeDouble, false, DoubleValue(-9.25)},
		{"string", TypeVarString, false, BytesValue([]byte("hello"))},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := NewPayloadForWrite()
			WriteBinaryParam(p, c.colType, c.unsigned, c.v)

			got, err := ReadBinaryParam(NewPayload(p.Bytes()), c.colType, c.unsigned)
			if err != nil {
				t.Fatalf("ReadBinaryParam: %v", err)
			}

			switch c.v.Kind {
			case KindInt:
				if got.Int != c.v.Int {
					t.Errorf("expected Int %d, got %d", c.v.Int, got.Int)
				}
			case KindUInt:
				if got.UInt != c.v.UInt {
					t.Errorf("expected UInt %d, got %d", c.v.UInt, got.UInt)
				}
			case KindFloat:
				if got.Float != c.v.Float {
					t.Errorf("expected Float %v, got %v", c.v.Float, got.Float)
				}
			case KindDouble:
				if got.Double != c.v.Double {
					t.Errorf("expected Double %v, got %v", c.v.Double, got.Double)
				}
			case KindBytes:
				if string(got.Bytes) != string(c.v.Bytes) {
					t.Errorf("expected Bytes %q, got %q", c.v.Bytes, got.Bytes)
				}
			}
		})
	}
}

func TestBinaryParamRoundTripNull(t *testing.T) {
	p := NewPayloadForWrite()
	got, err := ReadBinaryParam(NewPayload(p.Bytes()), TypeNull, false)
	if err != nil {
		t.Fatalf("ReadBinaryParam: %v", err)
	}
	if !got.IsNull() {
		t.Error("expected IsNull true for TYPE_NULL")
	}
}

func TestBinaryParamRoundTripPackedDate(t *testing.T) {
	cases := []DateValue{
		{},
		{Year: 2024, Month: 3, Day: 15},
		{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 30, Second: 5},
		{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 30, Second: 5, Microsecond: 123456},
	}

	for i, d := range cases {
		p := NewPayloadForWrite()
		writePackedDate(p, d)

		got, err := readPackedDate(NewPayload(p.Bytes()))
		if err != nil {
			t.Fatalf("case %d: readPackedDate: %v", i, err)
		}
		if got.Date != d {
			t.Errorf("case %d: expected %+v, got %+v", i, d, got.Date)
		}
	}
}

func TestBinaryParamRoundTripPackedTime(t *testing.T) {
	cases := []TimeValue{
		{},
		{Negative: true, Days: 2, Hour: 4, Minute: 5, Second: 6},
		{Days: 1, Hour: 1, Minute: 1, Second: 1, Microsecond: 500},
	}

	for i, tv := range cases {
		p := NewPayloadForWrite()
		writePackedTime(p, tv)

		got, err := readPackedTime(NewPayload(p.Bytes()))
		if err != nil {
			t.Fatalf("case %d: readPackedTime: %v", i, err)
		}
		if got.Time != tv {
			t.Errorf("case %d: expected %+v, got %+v", i, tv, got.Time)
		}
	}
}
