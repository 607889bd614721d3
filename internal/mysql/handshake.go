package mysql

import (
	"crypto/rand"
)

// Handshake is the server->client initial handshake packet (Protocol::Handshake,
// HandshakeV10). Fields follow spec.md §4.3 exactly.
type Handshake struct {
	ServerVersion   string
	ThreadID        uint32
	Scramble1       [8]byte
	Scramble2       [12]byte
	CharacterSet    byte
	StatusFlags     uint16
	Capabilities    uint32
	AuthPluginName  string
}

// NewHandshake builds a handshake advertising ServerCapabilities, with
// freshly generated scramble bytes.
func NewHandshake(threadID uint32) (*Handshake, error) {
	h := &Handshake{
		ServerVersion:  DefaultServerVersion,
		ThreadID:       threadID,
		CharacterSet:   DefaultCharset,
		StatusFlags:    ServerStatusAutocommit,
		Capabilities:   ServerCapabilities,
		AuthPluginName: AuthPluginMysqlNativePassword,
	}
	if err := randomizeScramble(h.Scramble1[:], h.Scramble2[:]); err != nil {
		return nil, err
	}
	return h, nil
}

func randomizeScramble(s1, s2 []byte) error {
	if _, err := rand.Read(s1); err != nil {
		return err
	}
	if _, err := rand.Read(s2); err != nil {
		return err
	}
	// MySQL auth data is NUL-terminated on the wire; a stray zero byte
	// would truncate the scramble early, so remap any to a safe value.
	for i := range s1 {
		if s1[i] == 0 {
			s1[i] = 1
		}
	}
	for i := range s2 {
		if s2[i] == 0 {
			s2[i] = 1
		}
	}
	return nil
}

// Encode serializes the handshake per spec.md §4.3.
func (h *Handshake) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutU8(ProtocolVersion10)
	p.PutStringNul([]byte(h.ServerVersion))
	p.PutU32LE(h.ThreadID)

	hasPluginAuth := h.Capabilities&ClientPluginAuth != 0
	hasSecureConn := h.Capabilities&ClientSecureConnection != 0

	p.PutFixedBytes(h.Scramble1[:])
	p.PutU8(0) // filler terminating scramble_1's "string"

	p.PutU16LE(uint16(h.Capabilities))
	p.PutU8(h.CharacterSet)
	p.PutU16LE(h.StatusFlags)
	p.PutU16LE(uint16(h.Capabilities >> 16))

	authLen := 0
	if hasPluginAuth {
		authLen = len(h.Scramble1) + len(h.Scramble2)
	}
	p.PutU8(byte(authLen))
	p.PutFixedBytes(make([]byte, 10)) // reserved

	if hasSecureConn {
		p.PutFixedBytes(h.Scramble2[:])
		p.PutU8(0)
	}
	if hasPluginAuth {
		p.PutStringNul([]byte(h.AuthPluginName))
	}
	return p.Bytes()
}

// HandshakeResponse41 is the client->server HandshakeResponse41 packet.
type HandshakeResponse41 struct {
	Capabilities   uint32
	MaxPacketSize  uint32
	CharacterSet   byte
	Username       string
	AuthResponse   []byte
	Database       string
	AuthPluginName string
}

// DecodeHandshakeResponse41 parses per spec.md §4.3's decode order.
func DecodeHandshakeResponse41(buf []byte) (*HandshakeResponse41, error) {
	p := NewPayload(buf)
	r := &HandshakeResponse41{}

	caps, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}
	r.Capabilities = uint32(caps)

	maxPkt, err := p.GetUintLE(4)
	if err != nil {
		return nil, err
	}
	r.MaxPacketSize = uint32(maxPkt)

	cs, err := p.GetUintLE(1)
	if err != nil {
		return nil, err
	}
	r.CharacterSet = byte(cs)

	if _, err := p.GetBytes(23); err != nil {
		return nil, err
	}

	user, err := p.GetStringNul()
	if err != nil {
		return nil, err
	}
	r.Username = string(user)

	switch {
	case r.Capabilities&ClientPluginAuthLenencClientData != 0:
		r.AuthResponse, err = p.GetStringLenenc()
	case r.Capabilities&ClientSecureConnection != 0:
		r.AuthResponse, err = p.GetStringFix()
	default:
		r.AuthResponse, err = p.GetStringNul()
	}
	if err != nil {
		return nil, err
	}

	if r.Capabilities&ClientConnectWithDB != 0 {
		db, err := p.GetStringNul()
		if err != nil {
			return nil, err
		}
		r.Database = string(db)
	}

	if r.Capabilities&ClientPluginAuth != 0 {
		plugin, err := p.GetStringNul()
		if err != nil {
			return nil, err
		}
		r.AuthPluginName = string(plugin)
	}

	return r, nil
}

// AuthSwitchRequest asks the client to re-authenticate with a different
// plugin, carrying fresh scramble bytes.
type AuthSwitchRequest struct {
	PluginName string
	Scramble   []byte
}

func (a *AuthSwitchRequest) Encode() []byte {
	p := NewPayloadForWrite()
	p.PutU8(HeaderAuthSwitch)
	p.PutStringNul([]byte(a.PluginName))
	p.PutFixedBytes(a.Scramble)
	return p.Bytes()
}

// DecodeAuthSwitchResponse reads the raw auth bytes that fill the rest of
// the packet — there is no further structure to an auth-switch response.
func DecodeAuthSwitchResponse(buf []byte) []byte {
	p := NewPayload(buf)
	return p.RemainingBytes()
}
