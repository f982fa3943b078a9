package room

import (
	"encoding/json"

	"go.uber.org/zap"
)

// inboundControl is the closed set of tagged control messages the relay
// recognises inbound (§4.F). The room field is informational only — the
// relay always acts on the Room the Session is already bound to, never
// on a room name claimed inside the message, to prevent cross-room
// injection.
type inboundControl struct {
	Type     string `json:"type"`
	ClientID int    `json:"clientId"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// ControlAction tells the Session what to do after a control frame has
// been dispatched into the Room. The Room only ever mutates its own
// state and notifies peers; closing the caller's own socket is always
// left to the Session, since the Room has no business reaching into the
// transport of the session that is talking to it.
type ControlAction struct {
	CloseSelf   bool
	CloseCode   int
	CloseReason string
	Violation   bool
}

// DispatchControl parses one JSON control frame received from `from` and
// applies its effect to rm. Malformed JSON is dropped and reported back
// as a protocol violation (Violation: true); unknown types are silently
// ignored, per §4.F and §7. A client-left or end-room claimed
// by a clientId other than the sender's own is an authorisation failure
// and is also silently ignored.
func DispatchControl(rm *Room, registry *Registry, from *Participant, raw []byte, log *zap.Logger) ControlAction {
	var msg inboundControl
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug("dropping malformed control frame", zap.Error(err))
		return ControlAction{Violation: true}
	}

	switch msg.Type {
	case "client-joined":
		rm.AnnounceJoined(msg.ClientID)
		return ControlAction{}

	case "client-left":
		if msg.ClientID != from.ClientID {
			log.Warn("ignoring client-left claimed by another client",
				zap.Int("from", from.ClientID), zap.Int("claimed", msg.ClientID))
			return ControlAction{}
		}
		empty, ok := rm.Depart(msg.ClientID)
		if !ok {
			return ControlAction{} // already departed: no-op
		}
		if empty {
			registry.Release(rm.Name(), rm)
		}
		return ControlAction{CloseSelf: true, CloseCode: normalClosure, CloseReason: "left room"}

	case "end-room":
		if msg.ClientID != from.ClientID {
			log.Warn("ignoring end-room from non-admin claim",
				zap.Int("from", from.ClientID), zap.Int("claimed", msg.ClientID))
			return ControlAction{}
		}
		if !rm.EndRoom(msg.ClientID) {
			return ControlAction{} // not admin, or already ended: no-op
		}
		registry.Release(rm.Name(), rm)
		return ControlAction{CloseSelf: true, CloseCode: normalClosure, CloseReason: "room ended"}

	default:
		// Unknown type: forward-compatible no-op.
		return ControlAction{}
	}
}
