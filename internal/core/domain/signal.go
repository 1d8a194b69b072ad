package domain

import "encoding/json"

// SignalKind enumerates every message type that crosses the signaling
// connection, in both directions.
type SignalKind string

const (
	// Client to server.
	KindJoin         SignalKind = "join"
	KindOffer        SignalKind = "offer"
	KindAnswer       SignalKind = "answer"
	KindICECandidate SignalKind = "ice-candidate"

	// Server to client.
	KindWelcome          SignalKind = "welcome"
	KindRoomJoined       SignalKind = "room-joined"
	KindUserConnected    SignalKind = "user-connected"
	KindUserDisconnected SignalKind = "user-disconnected"
)

// IsRelayable reports whether a client message kind is forwarded to another
// member rather than handled by the relay itself.
func (k SignalKind) IsRelayable() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Envelope is the wire format of every signaling message. The relay reads
// only the envelope fields; Payload stays opaque end to end.
type Envelope struct {
	Type    SignalKind      `json:"type"`
	Room    RoomID          `json:"room,omitempty"`
	From    MemberID        `json:"from,omitempty"`
	Target  MemberID        `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionRole determines which side of the handshake a peer session drives.
type SessionRole string

const (
	RoleInitiator SessionRole = "initiator"
	RoleResponder SessionRole = "responder"
)

// SessionState is the peer session lifecycle.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateNegotiating SessionState = "negotiating"
	StateConnected   SessionState = "connected"
	StateFailed      SessionState = "failed"
	StateClosed      SessionState = "closed"
)
