package room

import (
	"sync"

	"collabrelay/pkg/crdt"
	"collabrelay/pkg/metrics"
)

// Registry maps room name to Room, lazily creating rooms on first
// admission and removing them once they empty out. Every mutation of the
// map happens under reg.mu for the full duration of the admission or
// release call, so acquireForJoin/release are linearisable as required
// by §4.B: at any instant there is at most one Room per name, and a
// release racing a concurrent creation can never delete a room that
// admission is still mid-construction on.
//
// This does mean admission itself is serialised across the whole
// registry rather than per-room — a deliberate, documented trade-off
// (see DESIGN.md "Open Questions"): admission never blocks on socket
// I/O, only on fast in-memory map/slice work, so the critical section is
// short. Steady-state traffic (broadcasts, departures, binary frames),
// which dominates real usage, stays fully parallel across rooms because
// it only ever touches a Room's own mutex.
type Registry struct {
	capacity int
	engine   *crdt.Engine

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry builds an empty registry. capacity is the default
// per-room participant cap.
func NewRegistry(capacity int, engine *crdt.Engine) *Registry {
	return &Registry{
		capacity: capacity,
		engine:   engine,
		rooms:    make(map[string]*Room),
	}
}

// AcquireForJoin ensures a Room exists for name and attempts to admit
// peer as clientID/username (with adminClaim) into it. If this call
// created the room and admission failed, the room is torn down before
// returning so a failed first admission never leaks an empty room.
func (reg *Registry) AcquireForJoin(name string, peer Peer, clientID int, username string, adminClaim bool) (*Room, *Participant, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, existed := reg.rooms[name]
	if !existed {
		rm = newRoom(name, reg.capacity, reg.engine)
		reg.rooms[name] = rm
		metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	}

	p, err := rm.Admit(peer, clientID, username, adminClaim)
	if err != nil {
		if !existed {
			delete(reg.rooms, name)
			metrics.ActiveRooms.Set(float64(len(reg.rooms)))
			rm.destroyDocument()
		}
		return nil, nil, err
	}
	return rm, p, nil
}

// Release removes room from the registry if, and only if, room is still
// the entry currently registered under name and it has gone empty. The
// identity check guards against a stale release racing a newer room
// created for the same name after this one already tore down.
func (reg *Registry) Release(name string, rm *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	cur, ok := reg.rooms[name]
	if !ok || cur != rm {
		return
	}
	if rm.ParticipantCount() != 0 {
		return
	}
	delete(reg.rooms, name)
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
}

// RoomCount reports the number of live rooms. Used by health/diagnostics.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
