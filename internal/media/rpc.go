package media

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// JSON-RPC 2.0 framing for the engine control protocol. The remote engine
// (Kurento-compatible) speaks request/response pairs correlated by numeric
// id, plus unsolicited "onEvent" notifications for subscribed events.

const rpcVersion = "2.0"

// Method and operation names understood by the engine.
const (
	methodCreate    = "create"
	methodInvoke    = "invoke"
	methodRelease   = "release"
	methodSubscribe = "subscribe"
	methodEvent     = "onEvent"

	typePipeline = "MediaPipeline"
	typeEndpoint = "WebRtcEndpoint"

	opProcessOffer     = "processOffer"
	opAddCandidate     = "addIceCandidate"
	opGatherCandidates = "gatherCandidates"
	opConnect          = "connect"

	eventCandidateFound = "IceCandidateFound"
)

// rpcRequest is an outbound control call.
type rpcRequest struct {
	Version string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcEnvelope is any inbound frame: a response (ID set) or a notification
// (Method set, no ID).
type rpcEnvelope struct {
	Version string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// rpcResult is the common shape of create/invoke/subscribe results: the
// value is an object id, an SDP answer, or a subscription id depending on
// the call.
type rpcResult struct {
	Value     json.RawMessage `json:"value,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// resultString extracts the result value as a plain string, accepting both
// quoted JSON strings and raw tokens.
func (r *rpcResult) resultString() (string, error) {
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", fmt.Errorf("unexpected result value %q: %w", r.Value, err)
	}
	return s, nil
}

// Parameter payloads.

type createParams struct {
	Type              string            `json:"type"`
	ConstructorParams map[string]string `json:"constructorParams,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
}

type invokeParams struct {
	Object          string      `json:"object"`
	Operation       string      `json:"operation"`
	OperationParams interface{} `json:"operationParams,omitempty"`
	SessionID       string      `json:"sessionId,omitempty"`
}

type releaseParams struct {
	Object    string `json:"object"`
	SessionID string `json:"sessionId,omitempty"`
}

type subscribeParams struct {
	Object    string `json:"object"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// eventParams is the payload of an onEvent notification.
type eventParams struct {
	Value struct {
		Type   string `json:"type"`
		Object string `json:"object"`
		Data   struct {
			Candidate wireCandidate `json:"candidate"`
		} `json:"data"`
	} `json:"value"`
}

// wireCandidate is the engine's candidate representation. It carries the
// same fields the browser-side RTCIceCandidateInit does.
type wireCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

func toWireCandidate(c webrtc.ICECandidateInit) wireCandidate {
	w := wireCandidate{Candidate: c.Candidate}
	if c.SDPMid != nil {
		w.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		w.SDPMLineIndex = *c.SDPMLineIndex
	}
	return w
}

func (w wireCandidate) toInit() webrtc.ICECandidateInit {
	mid := w.SDPMid
	idx := w.SDPMLineIndex
	return webrtc.ICECandidateInit{
		Candidate:     w.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}
