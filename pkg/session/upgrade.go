package session

import (
	"net/http"
	"strconv"

	"collabrelay/pkg/config"
	"collabrelay/pkg/logging"
	"collabrelay/pkg/metrics"
	"collabrelay/pkg/room"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Gate is the Origin & Upgrade Gate (§4.A): it decides whether an inbound
// HTTP request is allowed to become a WebSocket connection at all, before
// any Room admission is attempted.
type Gate struct {
	cfg      *config.Config
	registry *room.Registry
	upgrader websocket.Upgrader
}

// NewGate builds the upgrade handler bound to registry, using cfg's origin
// allow-list to police the WebSocket handshake.
func NewGate(cfg *config.Config, registry *room.Registry) *Gate {
	g := &Gate{cfg: cfg, registry: registry}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin implements §7's origin policy: a request with no Origin
// header at all (same-origin browser navigations, non-browser clients)
// is always permitted; a present Origin header must match the configured
// allow-list.
func (g *Gate) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !g.cfg.OriginAllowed(origin) {
		metrics.AdmissionOutcomes.WithLabelValues("origin_rejected").Inc()
		return false
	}
	return true
}

// ServeHTTP handles one inbound WebSocket handshake. A rejected origin
// destroys the underlying connection with no frame and no handshake, per
// §8 — gorilla/websocket already refuses to complete the handshake when
// CheckOrigin returns false, responding with a plain 403 and never handing
// back a *websocket.Conn for us to write to.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomName := query.Get("room")
	if roomName == "" {
		roomName = g.cfg.DefaultRoom
	}

	clientID := 0
	if raw := query.Get("clientId"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			clientID = parsed
		}
	}

	username := query.Get("username")
	if username == "" {
		username = "User" + strconv.Itoa(clientID)
	}

	adminClaim := query.Get("admin") == "true"

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Debug("websocket upgrade failed", zap.Error(err), zap.String("room", roomName))
		return
	}

	// From here on the handshake has completed: any rejection must be
	// delivered as a close frame over this socket rather than an HTTP
	// status, since the client has already committed to the WebSocket
	// protocol.
	s := New(conn, g.registry, g.cfg, clientID, username)

	rm, _, err := g.registry.AcquireForJoin(roomName, s, clientID, username, adminClaim)
	if err != nil {
		g.rejectAdmission(conn, err)
		return
	}
	s.BindRoom(rm)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	s.Run()
}

// rejectAdmission sends the §7/§8 rejection handshake for a failed Admit
// call and then tears the raw connection down.
func (g *Gate) rejectAdmission(conn *websocket.Conn, err error) {
	switch err {
	case room.ErrRoomFull:
		_ = conn.WriteJSON(map[string]string{"type": "room-full", "error": "room is full"})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "Room is full"))
	case room.ErrDuplicateClient:
		// Protocol violation: no diagnostic frame, just a close.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4002, "duplicate clientId"))
	default:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "admission failed"))
	}
	conn.Close()
}
