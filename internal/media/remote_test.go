package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// fakeEngineServer speaks the engine's JSON-RPC dialect over a real
// WebSocket, recording every request it sees.
type fakeEngineServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []recordedRequest
	nextObj  int
}

type recordedRequest struct {
	Method string
	Params json.RawMessage
}

// inboundRequest mirrors rpcRequest with raw params, as the server sees it.
type inboundRequest struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func newFakeEngineServer(t *testing.T) *fakeEngineServer {
	t.Helper()
	f := &fakeEngineServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		f.serve(conn)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEngineServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeEngineServer) serve(conn *websocket.Conn) {
	for {
		var req inboundRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Method: req.Method, Params: req.Params})
		f.mu.Unlock()

		var value string
		switch req.Method {
		case methodCreate:
			var p createParams
			json.Unmarshal(req.Params, &p)
			f.mu.Lock()
			f.nextObj++
			value = fmt.Sprintf("%s/%d", p.Type, f.nextObj)
			f.mu.Unlock()

		case methodInvoke:
			var p invokeParams
			json.Unmarshal(req.Params, &p)
			if p.Operation == opProcessOffer {
				value = "v=0 answer"
			} else {
				value = "ok"
			}

		case methodSubscribe:
			value = "subscription-1"

		case methodRelease:
			value = "ok"
		}

		resp := map[string]interface{}{
			"jsonrpc": rpcVersion,
			"id":      req.ID,
			"result":  map[string]string{"value": value, "sessionId": "sess-1"},
		}
		f.mu.Lock()
		conn.WriteJSON(resp)
		f.mu.Unlock()
	}
}

// pushCandidateEvent sends an unsolicited IceCandidateFound notification for
// the given object.
func (f *fakeEngineServer) pushCandidateEvent(t *testing.T, object, candidate string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		t.Fatal("no engine connection")
	}
	err := f.conn.WriteJSON(map[string]interface{}{
		"jsonrpc": rpcVersion,
		"method":  methodEvent,
		"params": map[string]interface{}{
			"value": map[string]interface{}{
				"type":   eventCandidateFound,
				"object": object,
				"data": map[string]interface{}{
					"candidate": map[string]interface{}{
						"candidate":     candidate,
						"sdpMid":        "0",
						"sdpMLineIndex": 0,
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("push event: %v", err)
	}
}

func (f *fakeEngineServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Method
	}
	return out
}

func dialTestEngine(t *testing.T, f *fakeEngineServer) *RemoteEngine {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	engine, err := DialRemote(ctx, f.url())
	if err != nil {
		t.Fatalf("DialRemote: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestRemoteEngineFullSetup(t *testing.T) {
	f := newFakeEngineServer(t)
	engine := dialTestEngine(t, f)
	ctx := context.Background()

	pipeline, err := engine.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	ep, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	answer, err := ep.ProcessOffer(ctx, "v=0 offer")
	if err != nil {
		t.Fatalf("ProcessOffer: %v", err)
	}
	if answer != "v=0 answer" {
		t.Fatalf("got answer %q", answer)
	}

	mid := "0"
	var idx uint16
	if err := ep.AddCandidate(ctx, webrtc.ICECandidateInit{
		Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx,
	}); err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if err := ep.GatherCandidates(ctx); err != nil {
		t.Fatalf("GatherCandidates: %v", err)
	}

	// Endpoint creation subscribes to candidate discovery immediately.
	want := []string{methodCreate, methodCreate, methodSubscribe, methodInvoke, methodInvoke, methodInvoke}
	got := f.methods()
	if len(got) != len(want) {
		t.Fatalf("got call sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q (sequence %v)", i, got[i], want[i], got)
		}
	}
}

func TestRemoteEngineDispatchesCandidateEvents(t *testing.T) {
	f := newFakeEngineServer(t)
	engine := dialTestEngine(t, f)
	ctx := context.Background()

	pipeline, _ := engine.CreatePipeline(ctx)
	ep, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	got := make(chan webrtc.ICECandidateInit, 1)
	ep.OnCandidate(func(c webrtc.ICECandidateInit) { got <- c })

	// The endpoint object id assigned by the fake server.
	f.pushCandidateEvent(t, "WebRtcEndpoint/2", "candidate:42")

	select {
	case c := <-got:
		if c.Candidate != "candidate:42" {
			t.Fatalf("got candidate %q", c.Candidate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("candidate event never dispatched")
	}

	// Events for unknown objects are dropped silently.
	f.pushCandidateEvent(t, "WebRtcEndpoint/999", "candidate:0")
	select {
	case c := <-got:
		t.Fatalf("event for foreign object dispatched: %q", c.Candidate)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoteEngineConnectRejectsForeignEndpoints(t *testing.T) {
	f := newFakeEngineServer(t)
	engine := dialTestEngine(t, f)
	ctx := context.Background()

	pipeline, _ := engine.CreatePipeline(ctx)
	ep, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	local := NewLocalEngine()
	defer local.Close()
	lp, _ := local.CreatePipeline(ctx)
	lep, err := lp.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("local CreateEndpoint: %v", err)
	}

	if err := ep.Connect(ctx, lep); err == nil {
		t.Fatal("Connect accepted an endpoint from a different engine")
	}
}

func TestRemoteEngineCallFailsAfterClose(t *testing.T) {
	f := newFakeEngineServer(t)
	engine := dialTestEngine(t, f)

	engine.Close()

	_, err := engine.CreatePipeline(context.Background())
	if err == nil {
		t.Fatal("CreatePipeline succeeded on a closed engine")
	}
}

func TestRemoteEngineRespectsContextCancellation(t *testing.T) {
	// A server that never answers.
	mute := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer mute.Close()

	engine, err := DialRemote(context.Background(), "ws"+strings.TrimPrefix(mute.URL, "http"))
	if err != nil {
		t.Fatalf("DialRemote: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := engine.CreatePipeline(ctx); err != context.DeadlineExceeded {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
