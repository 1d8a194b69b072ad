package services

import (
	"encoding/json"
	"strings"

	"pointlink/internal/core/domain"
)

// handshakeProbe is the loose shape used to classify inbound handshake
// payloads. Counterparties do not all tag their payloads the same way, so
// the discriminator may be absent.
type handshakeProbe struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

// classifyHandshakePayload resolves the kind of a handshake payload,
// repairing a missing discriminator with bounded heuristics: a body that
// carries the characteristic SDP negotiation marker is tagged as whatever
// kind the session expects in context, and a candidate body is tagged as an
// ICE candidate. Anything else is a handshake error, handled by the
// session, never fatal.
func classifyHandshakePayload(raw []byte, expected domain.SignalKind) (domain.SignalKind, error) {
	if len(raw) == 0 {
		return "", &domain.HandshakeError{Reason: "empty payload"}
	}

	var probe handshakeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", &domain.HandshakeError{Reason: "undecodable payload", Cause: err}
	}

	switch probe.Type {
	case "offer":
		return domain.KindOffer, nil
	case "answer":
		return domain.KindAnswer, nil
	case "ice-candidate", "candidate":
		return domain.KindICECandidate, nil
	case "":
		// Fall through to heuristics.
	default:
		return "", &domain.HandshakeError{Reason: "unknown payload type " + probe.Type}
	}

	if strings.Contains(probe.SDP, "v=") {
		return expected, nil
	}
	if len(probe.Candidate) > 0 {
		return domain.KindICECandidate, nil
	}
	return "", &domain.HandshakeError{Reason: "payload carries no discriminator, sdp or candidate"}
}
