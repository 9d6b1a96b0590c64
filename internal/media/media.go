// Package media defines the control contract for the media-plane engine and
// provides two implementations: a remote Kurento-compatible engine reached
// over a WebSocket JSON-RPC control channel, and an in-process engine backed
// by pion PeerConnections. The signaling coordinator only ever sees the
// interfaces below; which engine is behind them is a deployment decision.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrEngineClosed is returned by operations issued after the engine's
// control connection has been torn down.
var ErrEngineClosed = errors.New("media: engine closed")

// Engine is a live control connection to the media plane.
type Engine interface {
	// CreatePipeline allocates a pipeline, the grouping unit for one
	// presenter's endpoint and its connected viewer endpoints.
	CreatePipeline(ctx context.Context) (Pipeline, error)

	// Close tears down the control connection. All pipelines and endpoints
	// created through this engine become unusable.
	Close() error
}

// Pipeline is an owned media-plane pipeline resource.
type Pipeline interface {
	// CreateEndpoint allocates an endpoint inside this pipeline.
	CreateEndpoint(ctx context.Context) (Endpoint, error)

	// Release frees the pipeline and every endpoint inside it.
	Release() error
}

// Endpoint is one participant's media connection within a pipeline.
type Endpoint interface {
	// ProcessOffer feeds the endpoint a session-description offer and
	// returns the negotiated answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)

	// AddCandidate relays a remote network candidate to the endpoint.
	AddCandidate(ctx context.Context, cand webrtc.ICECandidateInit) error

	// GatherCandidates starts local candidate discovery. Discovered
	// candidates are delivered through the OnCandidate callback.
	GatherCandidates(ctx context.Context) error

	// OnCandidate registers the callback invoked for every candidate the
	// engine discovers for this endpoint. Must be registered before
	// GatherCandidates to avoid missing early candidates.
	OnCandidate(fn func(webrtc.ICECandidateInit))

	// Connect routes this endpoint's media to sink. The receiver is the
	// source (the presenter's endpoint in the broadcast topology).
	Connect(ctx context.Context, sink Endpoint) error

	// Release frees the endpoint. The owning pipeline survives.
	Release() error
}
