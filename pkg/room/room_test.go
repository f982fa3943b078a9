package room

import (
	"sync"
	"testing"

	"collabrelay/pkg/crdt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu      sync.Mutex
	control []any
	binary  [][]byte
	closed  bool
	code    int
	reason  string
}

func (f *fakePeer) SendControl(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = append(f.control, v)
	return nil
}

func (f *fakePeer) SendBinary(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, frame)
	return nil
}

func (f *fakePeer) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
}

func (f *fakePeer) controlTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, m := range f.control {
		switch v := m.(type) {
		case clientUpdateMsg:
			types = append(types, v.Type)
		case clientJoinedMsg:
			types = append(types, v.Type)
		case clientLeftMsg:
			types = append(types, v.Type)
		case roomEndedMsg:
			types = append(types, v.Type)
		}
	}
	return types
}

func newTestRegistry(capacity int) *Registry {
	return NewRegistry(capacity, crdt.NewEngine())
}

func TestAdmitEnforcesCapacity(t *testing.T) {
	reg := newTestRegistry(2)

	_, _, err := reg.AcquireForJoin("r1", &fakePeer{}, 1, "alice", true)
	require.NoError(t, err)
	_, _, err = reg.AcquireForJoin("r1", &fakePeer{}, 2, "bob", false)
	require.NoError(t, err)

	_, _, err = reg.AcquireForJoin("r1", &fakePeer{}, 3, "carol", false)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestAdmitRejectsDuplicateClientID(t *testing.T) {
	reg := newTestRegistry(5)

	_, _, err := reg.AcquireForJoin("r1", &fakePeer{}, 1, "alice", false)
	require.NoError(t, err)

	_, _, err = reg.AcquireForJoin("r1", &fakePeer{}, 1, "alice-again", false)
	assert.ErrorIs(t, err, ErrDuplicateClient)
}

func TestFirstAdminClaimWinsLaterClaimsDemoted(t *testing.T) {
	reg := newTestRegistry(5)

	_, a, err := reg.AcquireForJoin("r1", &fakePeer{}, 1, "alice", true)
	require.NoError(t, err)
	assert.True(t, a.IsAdmin)

	rm, b, err := reg.AcquireForJoin("r1", &fakePeer{}, 2, "bob", true)
	require.NoError(t, err)
	assert.False(t, b.IsAdmin, "second admin claim must be demoted silently")
	assert.True(t, rm.IsAdmin(1))
}

func TestAdmissionBroadcastsClientUpdateToOthersOnly(t *testing.T) {
	reg := newTestRegistry(5)

	peerA := &fakePeer{}
	_, _, err := reg.AcquireForJoin("r1", peerA, 1, "alice", true)
	require.NoError(t, err)

	peerB := &fakePeer{}
	_, _, err = reg.AcquireForJoin("r1", peerB, 2, "bob", false)
	require.NoError(t, err)

	// alice (already present) gets notified about bob joining.
	assert.Contains(t, peerA.controlTypes(), "client-update")
	// bob does not get a client-update about his own admission.
	assert.NotContains(t, peerB.controlTypes(), "client-update")
}

func TestDepartureClearsAdminAndBroadcastsClientLeft(t *testing.T) {
	reg := newTestRegistry(5)

	peerA := &fakePeer{}
	rm, _, err := reg.AcquireForJoin("r1", peerA, 1, "alice", true)
	require.NoError(t, err)

	peerB := &fakePeer{}
	_, _, err = reg.AcquireForJoin("r1", peerB, 2, "bob", false)
	require.NoError(t, err)

	empty, ok := rm.Depart(1)
	require.True(t, ok)
	assert.False(t, empty)
	assert.False(t, rm.IsAdmin(1))
	assert.Contains(t, peerB.controlTypes(), "client-left")

	// Second departure of the same client is a no-op.
	_, ok = rm.Depart(1)
	assert.False(t, ok)
}

func TestLastParticipantDepartureDestroysRoom(t *testing.T) {
	reg := newTestRegistry(5)

	peerA := &fakePeer{}
	rm, _, err := reg.AcquireForJoin("r1", peerA, 1, "alice", true)
	require.NoError(t, err)

	empty, ok := rm.Depart(1)
	require.True(t, ok)
	assert.True(t, empty)

	reg.Release(rm.Name(), rm)
	assert.Equal(t, 0, reg.RoomCount())
}

func TestEndRoomRequiresAdmin(t *testing.T) {
	reg := newTestRegistry(5)

	peerA := &fakePeer{}
	rm, _, err := reg.AcquireForJoin("r1", peerA, 1, "alice", true)
	require.NoError(t, err)

	peerB := &fakePeer{}
	_, _, err = reg.AcquireForJoin("r1", peerB, 2, "bob", false)
	require.NoError(t, err)

	assert.False(t, rm.EndRoom(2), "non-admin end-room must be ignored")
	assert.Equal(t, 2, rm.ParticipantCount())

	assert.True(t, rm.EndRoom(1))
	assert.Equal(t, 0, rm.ParticipantCount())
	assert.Contains(t, peerB.controlTypes(), "room-ended")
	assert.True(t, peerB.closed)

	// Second end-room from the same (now ex-)admin is a no-op.
	assert.False(t, rm.EndRoom(1))
}

func TestAcquireForJoinTearsDownFreshRoomOnFailedFirstAdmission(t *testing.T) {
	reg := newTestRegistry(0) // capacity 0: even the very first admission fails

	_, _, err := reg.AcquireForJoin("r1", &fakePeer{}, 1, "alice", true)
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, 0, reg.RoomCount())
}
