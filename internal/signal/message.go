// Package signal implements the signaling side of the broadcast coordinator:
// the WebSocket message envelope, the per-connection transport, the
// per-session state machine, and the HTTP/WebSocket server that feeds it.
package signal

import "github.com/pion/webrtc/v4"

// MessageID identifies the kind of signaling message.
type MessageID string

// Client → server messages.
const (
	MsgPresenter      MessageID = "presenter"
	MsgViewer         MessageID = "viewer"
	MsgStop           MessageID = "stop"
	MsgOnIceCandidate MessageID = "onIceCandidate"
)

// Server → client messages.
const (
	MsgPresenterResponse MessageID = "presenterResponse"
	MsgViewerResponse    MessageID = "viewerResponse"
	MsgStopCommunication MessageID = "stopCommunication"
	MsgIceCandidate      MessageID = "iceCandidate"
	MsgError             MessageID = "error"
)

// Response values for presenterResponse / viewerResponse.
const (
	ResponseAccepted = "accepted"
	ResponseRejected = "rejected"
)

// Message is the JSON envelope exchanged over the signaling WebSocket.
// Unused fields are omitted on the wire.
type Message struct {
	ID        MessageID                `json:"id"`
	RoomID    string                   `json:"roomId,omitempty"`
	SDPOffer  string                   `json:"sdpOffer,omitempty"`
	SDPAnswer string                   `json:"sdpAnswer,omitempty"`
	Response  string                   `json:"response,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}
