// Package crdt implements the Sync Engine contract the relay depends on:
// a document keyed by room name, an attach/detach peer registry, and
// ingest/emit semantics for opaque binary frames. The wire format and
// convergence algorithm are intentionally minimal — any interoperable
// CRDT/awareness implementation honoring this same contract (attach,
// ingest, destroy) can be swapped in without touching the relay above it.
package crdt

import "sync"

// Frame kinds. The relay never branches on these; only the engine does,
// to decide whether a frame should be folded into replay state or merely
// relayed as ephemeral presence data.
const (
	KindSyncStep1 byte = 0
	KindUpdate    byte = 1
	KindAwareness byte = 2
)

// SyncPeer is the minimal capability the engine needs from a connected
// session: the ability to receive an opaque outbound binary frame.
type SyncPeer interface {
	SendBinary(frame []byte) error
}

// Document is the opaque CRDT state for one room. It is addressable only
// by the room name that owns it.
type Document struct {
	name string

	mu      sync.Mutex
	history [][]byte
	peers   map[SyncPeer]struct{}
	live    bool
}

// Engine creates, attaches peers to, and destroys documents by name.
type Engine struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewEngine constructs an empty engine.
func NewEngine() *Engine {
	return &Engine{docs: make(map[string]*Document)}
}

// GetOrCreateDocument is idempotent: repeated calls for the same name
// return the same Document until DestroyDocument releases it.
func (e *Engine) GetOrCreateDocument(name string) *Document {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d, ok := e.docs[name]; ok {
		return d
	}
	d := &Document{name: name, peers: make(map[SyncPeer]struct{}), live: true}
	e.docs[name] = d
	return d
}

// DestroyDocument irrevocably releases document state. Safe to call more
// than once; later calls are no-ops.
func (e *Engine) DestroyDocument(name string) {
	e.mu.Lock()
	d, ok := e.docs[name]
	if ok {
		delete(e.docs, name)
	}
	e.mu.Unlock()

	if ok {
		d.mu.Lock()
		d.live = false
		d.history = nil
		d.peers = nil
		d.mu.Unlock()
	}
}

// Attach registers peer as a participant of doc and immediately sends it
// a sync-step-1 frame carrying the document's replay history, mirroring
// the initial handshake of a y-websocket-style provider.
func (e *Engine) Attach(doc *Document, peer SyncPeer) {
	doc.mu.Lock()
	if !doc.live {
		doc.mu.Unlock()
		return
	}
	doc.peers[peer] = struct{}{}
	snapshot := make([]byte, 0, 1)
	snapshot = append(snapshot, KindSyncStep1)
	for _, u := range doc.history {
		snapshot = append(snapshot, u...)
	}
	doc.mu.Unlock()

	_ = peer.SendBinary(snapshot)
}

// Detach removes peer from doc's attached set. It no longer receives
// fan-out from Ingest.
func (e *Engine) Detach(doc *Document, peer SyncPeer) {
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if doc.peers != nil {
		delete(doc.peers, peer)
	}
}

// Ingest consumes one inbound frame from sender, mutates the document if
// the frame carries an update, and emits the frame to every other
// attached peer. Awareness frames are relayed but never folded into
// replay history, since presence data is ephemeral by definition.
//
// A call on a destroyed document is a programming error and is a no-op
// rather than a panic, since teardown races (a frame arriving just as
// the room empties) are expected under best-effort delivery.
func (e *Engine) Ingest(doc *Document, sender SyncPeer, frame []byte) {
	if len(frame) == 0 {
		return
	}

	doc.mu.Lock()
	if !doc.live {
		doc.mu.Unlock()
		return
	}

	kind := frame[0]
	if kind == KindUpdate {
		stored := make([]byte, len(frame)-1)
		copy(stored, frame[1:])
		doc.history = append(doc.history, stored)
	}

	targets := make([]SyncPeer, 0, len(doc.peers))
	for p := range doc.peers {
		if p != sender {
			targets = append(targets, p)
		}
	}
	doc.mu.Unlock()

	for _, p := range targets {
		_ = p.SendBinary(frame)
	}
}
