package mysql

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		bytes.Repeat([]byte{0xAB}, 300),
	}

	for _, payload := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, 7, payload); err != nil {
			t.Fatalf("len=%d: WriteFrame: %v", len(payload), err)
		}

		seq, got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("len=%d: ReadFrame: %v", len(payload), err)
		}
		if seq != 7 {
			t.Errorf("len=%d: expected seq 7, got %d", len(payload), seq)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("len=%d: payload mismatch", len(payload))
		}
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxPayloadLen+1)
	if err := WriteFrame(&buf, 0, big); !errors.Is(err, ErrDecodeViolation) {
		t.Errorf("expected ErrDecodeViolation, got %v", err)
	}
}

func TestWriteFramesAssignsMonotonicSequence(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{{1}, {2, 2}, {3, 3, 3}}

	if err := WriteFrames(&buf, 5, payloads); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}

	wantSeq := byte(5)
	for i, want := range payloads {
		wantSeq++
		seq, got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		if seq != wantSeq {
			t.Errorf("frame %d: expected seq %d, got %d", i, wantSeq, seq)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
}

func TestReadFrameBoundaryLengthNotRejectedByDecodeCheck(t *testing.T) {
	// Length field is exactly MaxPayloadLen; the frame body is truncated
	// so io.ReadFull fails, but it must fail with an EOF-class error, not
	// ErrDecodeViolation — the length itself is within bounds.
	header := []byte{0xFF, 0xFF, 0xFF, 0x00}
	buf := bytes.NewReader(header)
	if _, _, err := ReadFrame(buf); errors.Is(err, ErrDecodeViolation) {
		t.Errorf("boundary length should not trip the decode-violation check, got %v", err)
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	buf := bytes.NewReader([]byte{1, 2})
	if _, _, err := ReadFrame(buf); err == nil {
		t.Error("expected error on truncated header")
	}
}
