// Package session owns one WebSocket connection end to end: its read and
// write pumps, its outbound envelope channel, and the translation between
// wire frames and the Room/Sync Engine contracts.
package session

import (
	"encoding/json"
	"time"

	"collabrelay/pkg/config"
	"collabrelay/pkg/logging"
	"collabrelay/pkg/metrics"
	"collabrelay/pkg/room"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB: generous enough for a CRDT snapshot frame
	sendBuffer     = 256
)

// Session is one peer's live connection to a Room. It owns the only
// goroutine allowed to write to its *websocket.Conn (writePump), so every
// other goroutine — including another Session's Room.EndRoom call closing
// this one down — only ever pushes onto the outbound channel, or, when that
// channel is full, closes the connection without writing to it.
type Session struct {
	id       string // internal correlation id, never the protocol clientId
	conn     *websocket.Conn
	room     *room.Room
	registry *room.Registry
	cfg      *config.Config
	log      *zap.Logger

	clientID int
	username string

	outbound chan envelope

	violations int
}

type envelope struct {
	control     any
	binary      []byte
	closeCode   int
	closeReason string
	isClose     bool
}

// New builds a Session bound to conn. It implements room.Peer on its own
// (via the buffered outbound channel) before it is ever admitted into a
// Room, so the Upgrade Gate can pass a Session directly to
// Registry.AcquireForJoin and bind the resulting Room afterwards with
// BindRoom — there is never a stand-in Peer to reconcile.
func New(conn *websocket.Conn, registry *room.Registry, cfg *config.Config, clientID int, username string) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		log:      logging.ForSession(id[:8], clientID),
		clientID: clientID,
		username: username,
		outbound: make(chan envelope, sendBuffer),
	}
	return s
}

// BindRoom attaches the Room this session was admitted into. Messages
// pushed to the outbound channel before the write pump starts simply queue
// in its buffer, so admission side-effects (the Sync Engine's handshake
// frame) are never lost.
func (s *Session) BindRoom(rm *room.Room) {
	s.room = rm
}

// Run starts the write pump and blocks on the read pump until the
// connection closes, then tears the session down. Call it from the
// goroutine the Upgrade Gate spawns per connection.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

// SendControl implements room.Peer. It is a non-blocking push: a slow or
// wedged peer never stalls the Room or another peer's delivery. A full
// outbound buffer is treated as a dead peer and torn down.
func (s *Session) SendControl(v any) error {
	select {
	case s.outbound <- envelope{control: v}:
		return nil
	default:
		s.log.Warn("outbound buffer full, dropping session")
		s.forceClose(websocket.CloseMessageTooBig, "client too slow")
		return nil
	}
}

// SendBinary implements room.Peer and crdt.SyncPeer.
func (s *Session) SendBinary(frame []byte) error {
	select {
	case s.outbound <- envelope{binary: frame}:
		return nil
	default:
		s.log.Warn("outbound buffer full, dropping session")
		s.forceClose(websocket.CloseMessageTooBig, "client too slow")
		return nil
	}
}

// Close implements room.Peer: it asks this session's own writePump to send
// a close frame and stop, rather than writing to the socket directly. If the
// outbound buffer is full it closes the connection without a close frame.
func (s *Session) Close(code int, reason string) {
	s.forceClose(code, reason)
}

func (s *Session) forceClose(code int, reason string) {
	select {
	case s.outbound <- envelope{isClose: true, closeCode: code, closeReason: reason}:
	default:
		// Outbound saturated: no close frame can be queued, so close the
		// underlying connection (safe concurrently with the pumps). The
		// read pump then fails and runs its deferred teardown.
		_ = s.conn.Close()
	}
}

func (s *Session) readPump() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in read pump", zap.Any("recovered", r))
		}
		s.teardown()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.room.IngestBinary(s.clientID, payload)

		case websocket.TextMessage:
			action := room.DispatchControl(s.room, s.registry, s.currentParticipant(), payload, s.log)
			if action.Violation {
				s.noteProtocolViolation("malformed_control_json")
			}
			if action.CloseSelf {
				s.forceClose(action.CloseCode, action.CloseReason)
				return
			}

		default:
			s.noteProtocolViolation("unsupported_frame_kind")
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if env.isClose {
				msg := websocket.FormatCloseMessage(env.closeCode, env.closeReason)
				_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if env.control != nil {
				raw, err := json.Marshal(env.control)
				if err != nil {
					s.log.Error("failed to marshal control frame", zap.Error(err))
					continue
				}
				if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					s.log.Debug("write error", zap.Error(err))
					return
				}
				continue
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, env.binary); err != nil {
				s.log.Debug("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown departs this session's clientID from its room exactly once. It
// is safe to call even when the session never reached full admission or
// was already departed by a control message, since Room.Depart is
// idempotent.
func (s *Session) teardown() {
	empty, ok := s.room.Depart(s.clientID)
	if !ok {
		return
	}
	if empty {
		s.registry.Release(s.room.Name(), s.room)
	}
}

func (s *Session) currentParticipant() *room.Participant {
	return &room.Participant{Peer: s, ClientID: s.clientID, Username: s.username}
}

func (s *Session) noteProtocolViolation(reason string) {
	metrics.ProtocolViolations.WithLabelValues(reason).Inc()
	s.violations++
	if s.violations >= s.cfg.ProtocolViolationThreshold {
		s.log.Warn("protocol violation threshold exceeded, closing", zap.String("reason", reason))
		s.forceClose(websocket.ClosePolicyViolation, "too many protocol violations")
	}
}
