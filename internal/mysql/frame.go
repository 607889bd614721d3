package mysql

import (
	"fmt"
	"io"
)

// MaxPayloadLen is the largest body a single frame can carry (2^24-1); the
// core never splits a logical packet across frames, so this is also the
// hard ceiling on any single encoded packet.
const MaxPayloadLen = 1<<24 - 1

// ReadFrame decodes one length-prefixed MySQL frame from r: a 3-byte
// little-endian length followed by a 1-byte sequence id, both describing
// the payload that follows. Returns the sequence id and the raw payload.
func ReadFrame(r io.Reader) (seq byte, payload []byte, err error) {
	var header [4]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	seq = header[3]
	if length > MaxPayloadLen {
		return 0, nil, fmt.Errorf("%w: frame length %d exceeds max %d", ErrDecodeViolation, length, MaxPayloadLen)
	}

	payload = make([]byte, length)
	if length > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return seq, payload, nil
}

// WriteFrame prepends the 3-byte LE length and 1-byte sequence id to
// payload and writes the whole frame in a single call.
func WriteFrame(w io.Writer, seq byte, payload []byte) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: payload length %d exceeds max %d", ErrDecodeViolation, len(payload), MaxPayloadLen)
	}
	frame := make([]byte, 4+len(payload))
	frame[0] = byte(len(payload))
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(len(payload) >> 16)
	frame[3] = seq
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}

// WriteFrames writes each payload in order as its own frame, assigning
// sequence ids client_sequence_id+1, +2, ... in order (I1/P4).
func WriteFrames(w io.Writer, clientSeq byte, payloads [][]byte) error {
	seq := clientSeq
	for _, p := range payloads {
		seq++
		if err := WriteFrame(w, seq, p); err != nil {
			return err
		}
	}
	return nil
}
