package mysql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
)

// Conn drives one client connection through the phase state machine and
// then the command loop (spec.md §4.7). It owns the frame codec and the
// session; no session is ever shared between connections (spec.md §5).
type Conn struct {
	netConn net.Conn
	session *Session
	engine  Engine
}

// NewConn wires a freshly accepted socket to a new session and the
// engine it will dispatch SQL through.
func NewConn(netConn net.Conn, engine Engine) (*Conn, error) {
	session, err := NewSession()
	if err != nil {
		return nil, err
	}
	return &Conn{netConn: netConn, session: session, engine: engine}, nil
}

func (c *Conn) Session() *Session { return c.session }

// Serve runs the connection to completion: handshake, auth, then the
// command loop, until COM_QUIT, an I/O error, or ctx cancellation.
// Suspension points are exactly the three named in spec.md §5: waiting
// for the next frame, writing a response frame, and (inside the engine)
// the downstream backend call.
func (c *Conn) Serve(ctx context.Context) error {
	if err := c.handshake(); err != nil {
		return err
	}

	if err := c.authLoop(ctx); err != nil {
		return err
	}

	return c.commandLoop(ctx)
}

func (c *Conn) handshake() error {
	hs, err := NewHandshake(uint32(c.session.ID()))
	if err != nil {
		return err
	}
	c.session.scramble1 = hs.Scramble1
	c.session.scramble2 = hs.Scramble2
	c.session.SetPhase(PhaseAuthFastPath)
	return WriteFrame(c.netConn, 0, hs.Encode())
}

// authLoop drives AuthFastPath and, if needed, AuthMethodMismatch, ending
// with authorized == true (I4: the phase machine never advances again
// after that).
func (c *Conn) authLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		clientSeq, body, err := ReadFrame(c.netConn)
		if err != nil {
			return err
		}

		switch c.session.Phase() {
		case PhaseAuthFastPath:
			responses, err := HandleAuthFastPath(c.session, body)
			if err != nil {
				return err
			}
			if c.session.Phase() == PhaseAuthMethodMismatch {
				if err := WriteFrames(c.netConn, clientSeq, responses); err != nil {
					return err
				}
				continue
			}
			c.session.SetAuthorized(true)
			c.session.SetPhase(PhaseCommand)
			if err := WriteFrame(c.netConn, clientSeq+1, NewOK().Encode()); err != nil {
				return err
			}
			return nil

		case PhaseAuthMethodMismatch:
			if err := HandleAuthMethodMismatch(c.session, body); err != nil {
				return err
			}
			c.session.SetAuthorized(true)
			c.session.SetPhase(PhaseCommand)
			return WriteFrame(c.netConn, clientSeq+1, NewOK().Encode())

		default:
			return errors.New("mysql: authLoop reached with unexpected phase")
		}
	}
}

// commandLoop implements the driver's main loop: read a frame, dispatch
// by command_type, write the response list (I1/P4), repeat until
// COM_QUIT or an unrecoverable error.
func (c *Conn) commandLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		clientSeq, body, err := ReadFrame(c.netConn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if len(body) == 0 {
			return errors.New("mysql: empty command packet")
		}
		cmd := body[0]

		responses, closeAfter, err := Dispatch(ctx, c.session, cmd, body[1:], c.engine)
		if err != nil {
			if handleErr := c.handleCommandError(clientSeq, err); handleErr != nil {
				return handleErr
			}
			if isFatalProtocolError(err) {
				return err
			}
			continue
		}

		if err := WriteFrames(c.netConn, clientSeq, responses); err != nil {
			return err
		}
		if closeAfter {
			return nil
		}
	}
}

// handleCommandError implements the propagation policy of spec.md §7:
// decode violations, unsupported commands, and invariant violations are
// fatal and get no ERR packet; everything else (backend failures) is
// surfaced to the client as an ERR packet on a connection that stays
// open.
func (c *Conn) handleCommandError(clientSeq byte, err error) error {
	if isFatalProtocolError(err) {
		slog.Error("mysql: fatal protocol error, closing connection", "session", c.session.ID(), "error", err)
		return nil
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return WriteFrame(c.netConn, clientSeq+1, EncodeServerError(serverErr))
	}

	serverErr = ErrBackend(err)
	return WriteFrame(c.netConn, clientSeq+1, EncodeServerError(serverErr))
}

func isFatalProtocolError(err error) bool {
	return errors.Is(err, ErrDecodeViolation) ||
		errors.Is(err, ErrUnsupportedCommand) ||
		errors.Is(err, ErrInvariant)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.netConn.Close()
}
