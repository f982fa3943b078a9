package room

import (
	"fmt"
	"sync"
	"time"

	"collabrelay/pkg/crdt"
	"collabrelay/pkg/logging"
	"collabrelay/pkg/metrics"

	"go.uber.org/zap"
)

// Room is the serialisation point for all state scoped to one named
// collaboration session: its participant roster, its admin reference,
// and the lifetime of its CRDT document. Every mutation below takes
// r.mu, so concurrent callers observe a single, well-ordered sequence of
// admissions, departures, and broadcasts — matching the "exclusive lock
// per room" discipline described for the relay (option (a) of the two
// concurrency disciplines the design allows; see DESIGN.md).
type Room struct {
	name     string
	capacity int

	engine *crdt.Engine
	doc    *crdt.Document

	log *zap.Logger

	mu           sync.Mutex
	participants map[int]*Participant
	admin        *Participant
	destroyOnce  sync.Once
}

func newRoom(name string, capacity int, engine *crdt.Engine) *Room {
	return &Room{
		name:         name,
		capacity:     capacity,
		engine:       engine,
		doc:          engine.GetOrCreateDocument(name),
		log:          logging.ForRoom(name),
		participants: make(map[int]*Participant),
	}
}

// Name returns the room's opaque key.
func (r *Room) Name() string { return r.name }

// Admit attempts to add a new participant to the room. See §4.C: capacity
// and duplicate-clientId are checked first; an admin claim is honored
// only if no admin is currently set (first admin wins, later claims join
// as ordinary participants). On success every other participant receives
// a client-update broadcast reflecting the new roster, and the Sync
// Engine is attached so the newcomer receives its initial handshake
// frame.
func (r *Room) Admit(peer Peer, clientID int, username string, adminClaim bool) (*Participant, error) {
	r.mu.Lock()

	if len(r.participants) >= r.capacity {
		r.mu.Unlock()
		metrics.AdmissionOutcomes.WithLabelValues("room_full").Inc()
		return nil, ErrRoomFull
	}
	if _, dup := r.participants[clientID]; dup {
		r.mu.Unlock()
		metrics.AdmissionOutcomes.WithLabelValues("duplicate_client").Inc()
		return nil, ErrDuplicateClient
	}

	p := &Participant{Peer: peer, ClientID: clientID, Username: username}
	p.JoinedAt = time.Now()
	if adminClaim && r.admin == nil {
		p.IsAdmin = true
		r.admin = p
	}
	r.participants[clientID] = p

	others := r.otherPeersLocked(clientID)
	roster := r.rosterLocked()
	r.mu.Unlock()

	metrics.AdmissionOutcomes.WithLabelValues("admitted").Inc()
	metrics.RoomParticipants.WithLabelValues(r.name).Set(float64(len(roster)))

	r.engine.Attach(r.doc, p)

	r.broadcastControl(others, clientUpdateMsg{Type: "client-update", ConnectedClients: roster})

	r.log.Info("participant admitted", zap.Int("clientId", clientID), zap.Bool("admin", p.IsAdmin))
	return p, nil
}

// AnnounceJoined re-broadcasts the informational "client-joined" frame
// for an already-admitted participant, in response to the control
// protocol's client-joined message (§4.F). It does not re-run admission.
func (r *Room) AnnounceJoined(clientID int) {
	r.mu.Lock()
	p, ok := r.participants[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	others := r.otherPeersLocked(clientID)
	r.mu.Unlock()

	r.broadcastControl(others, clientJoinedMsg{
		Type:     "client-joined",
		ClientID: p.ClientID,
		Username: p.Username,
		Message:  fmt.Sprintf("%s joined the room", p.Username),
	})
}

// Depart removes clientID's participant record, clearing the admin
// reference if it departed without having sent end-room, and broadcasts
// client-left to the remaining roster. It is idempotent: calling it for a
// clientID that is no longer a member (already departed, or never
// admitted) is a no-op and reports ok=false.
//
// empty reports whether the room has no participants left. When empty is
// true Depart has already destroyed the document; the caller is
// responsible for releasing the room from the Registry.
func (r *Room) Depart(clientID int) (empty bool, ok bool) {
	r.mu.Lock()
	p, exists := r.participants[clientID]
	if !exists {
		r.mu.Unlock()
		return false, false
	}
	delete(r.participants, clientID)
	if r.admin != nil && r.admin.ClientID == clientID {
		r.admin = nil
	}
	remaining := r.otherPeersLocked(-1)
	empty = len(r.participants) == 0
	r.mu.Unlock()

	r.engine.Detach(r.doc, p)

	if empty {
		metrics.RoomParticipants.DeleteLabelValues(r.name)
	} else {
		metrics.RoomParticipants.WithLabelValues(r.name).Set(float64(len(remaining)))
	}

	r.broadcastControl(remaining, clientLeftMsg{
		Type:     "client-left",
		ClientID: p.ClientID,
		Username: p.Username,
		Message:  fmt.Sprintf("%s left the room", p.Username),
	})

	if empty {
		r.destroyDocument()
	}

	r.log.Info("participant departed", zap.Int("clientId", clientID), zap.Bool("roomEmpty", empty))
	return empty, true
}

// EndRoom authorises and executes administrative termination: only the
// current admin's clientID may invoke it. On success every OTHER
// participant is sent a room-ended notice and forcibly closed; the
// requester's own socket is left for the caller (the control dispatcher)
// to close, mirroring how it closes a session after client-left.
//
// A second end-room call after teardown (admin already cleared) is a
// no-op, satisfying the idempotence law in §8.
func (r *Room) EndRoom(requesterClientID int) bool {
	r.mu.Lock()
	if r.admin == nil || r.admin.ClientID != requesterClientID {
		r.mu.Unlock()
		return false
	}
	adminUsername := r.admin.Username

	targets := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ClientID != requesterClientID {
			targets = append(targets, p)
		}
	}
	r.participants = make(map[int]*Participant)
	r.admin = nil
	r.mu.Unlock()

	metrics.RoomParticipants.DeleteLabelValues(r.name)

	msg := roomEndedMsg{Type: "room-ended", Message: fmt.Sprintf("Room has been closed by the admin %s", adminUsername)}
	for _, p := range targets {
		_ = p.SendControl(msg)
	}
	for _, p := range targets {
		p.Close(normalClosure, "room ended by admin")
	}

	r.destroyDocument()
	r.log.Info("room ended by admin", zap.Int("clientId", requesterClientID))
	return true
}

// IngestBinary routes one inbound CRDT/awareness frame from clientID into
// the Sync Engine, which mutates the document and fans it out to every
// other attached peer. Unknown senders (already departed, never
// admitted) are dropped.
func (r *Room) IngestBinary(clientID int, frame []byte) {
	r.mu.Lock()
	p, ok := r.participants[clientID]
	r.mu.Unlock()
	if !ok {
		return
	}
	metrics.BroadcastFrames.WithLabelValues("binary").Inc()
	r.engine.Ingest(r.doc, p, frame)
}

// IsAdmin reports whether clientID is the room's current admin.
func (r *Room) IsAdmin(clientID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin != nil && r.admin.ClientID == clientID
}

// ParticipantCount returns the current roster size.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// otherPeersLocked returns every participant whose clientID != exclude,
// as Peers. Pass -1 to include everyone currently in the map (used after
// the departing participant has already been deleted). Caller must hold
// r.mu.
func (r *Room) otherPeersLocked(exclude int) []Peer {
	peers := make([]Peer, 0, len(r.participants))
	for id, p := range r.participants {
		if id != exclude {
			peers = append(peers, p.Peer)
		}
	}
	return peers
}

// rosterLocked snapshots the current roster as ClientInfo. Caller must
// hold r.mu.
func (r *Room) rosterLocked() []ClientInfo {
	roster := make([]ClientInfo, 0, len(r.participants))
	for _, p := range r.participants {
		roster = append(roster, ClientInfo{ClientID: p.ClientID, Username: p.Username})
	}
	return roster
}

func (r *Room) broadcastControl(targets []Peer, msg any) {
	for _, p := range targets {
		_ = p.SendControl(msg)
	}
	if len(targets) > 0 {
		metrics.BroadcastFrames.WithLabelValues("control").Add(float64(len(targets)))
	}
}

func (r *Room) destroyDocument() {
	r.destroyOnce.Do(func() {
		r.engine.DestroyDocument(r.name)
	})
}

// normalClosure mirrors websocket.CloseNormalClosure without importing
// gorilla/websocket into this package; Session is the only layer that
// needs to know the transport's close-code constants.
const normalClosure = 1000
