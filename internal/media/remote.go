package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// RemoteEngine drives a Kurento-compatible media server over a WebSocket
// JSON-RPC control channel. All writes are serialized through a mutex; a
// single reader goroutine correlates responses to pending calls by id and
// dispatches onEvent notifications to the owning endpoint.
type RemoteEngine struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan rpcEnvelope
	handlers map[string]func(webrtc.ICECandidateInit) // endpoint object id → callback

	closed    chan struct{}
	closeOnce sync.Once
}

// DialRemote connects to the engine's control endpoint, e.g.
// ws://localhost:8888/kurento.
func DialRemote(ctx context.Context, url string) (*RemoteEngine, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to media engine at %s: %w", url, err)
	}

	e := &RemoteEngine{
		conn:     conn,
		pending:  make(map[uint64]chan rpcEnvelope),
		handlers: make(map[string]func(webrtc.ICECandidateInit)),
		closed:   make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

// CreatePipeline allocates a MediaPipeline on the engine.
func (e *RemoteEngine) CreatePipeline(ctx context.Context) (Pipeline, error) {
	res, err := e.call(ctx, methodCreate, createParams{Type: typePipeline})
	if err != nil {
		return nil, err
	}
	id, err := res.resultString()
	if err != nil {
		return nil, err
	}
	return &remotePipeline{engine: e, id: id}, nil
}

// Close shuts the control connection down. Pending calls fail with
// ErrEngineClosed; the engine releases all server-side resources created
// over this connection.
func (e *RemoteEngine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.conn.Close()
	})
	return nil
}

// call issues one request and blocks until its response, ctx cancellation,
// or connection teardown.
func (e *RemoteEngine) call(ctx context.Context, method string, params interface{}) (*rpcResult, error) {
	id := e.nextID.Add(1)
	ch := make(chan rpcEnvelope, 1)

	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	req := rpcRequest{Version: rpcVersion, ID: id, Method: method, Params: params}

	e.writeMu.Lock()
	err := e.conn.WriteJSON(req)
	e.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("engine %s call: %w", method, err)
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, env.Error
		}
		var res rpcResult
		if len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &res); err != nil {
				return nil, fmt.Errorf("engine %s result: %w", method, err)
			}
		}
		return &res, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-e.closed:
		return nil, ErrEngineClosed
	}
}

// readLoop is the single reader goroutine: responses go to their pending
// call, candidate-found events go to the owning endpoint's callback.
func (e *RemoteEngine) readLoop() {
	for {
		var env rpcEnvelope
		if err := e.conn.ReadJSON(&env); err != nil {
			select {
			case <-e.closed:
			default:
				util.LogWarning("media engine connection lost: %v", err)
				e.Close()
			}
			return
		}

		switch {
		case env.ID != nil:
			e.mu.Lock()
			ch, ok := e.pending[*env.ID]
			e.mu.Unlock()
			if ok {
				ch <- env
			}

		case env.Method == methodEvent:
			var ev eventParams
			if err := json.Unmarshal(env.Params, &ev); err != nil {
				util.LogDebug("malformed engine event: %v", err)
				continue
			}
			if ev.Value.Type != eventCandidateFound {
				continue
			}
			e.mu.Lock()
			fn := e.handlers[ev.Value.Object]
			e.mu.Unlock()
			if fn != nil {
				fn(ev.Value.Data.Candidate.toInit())
			}
		}
	}
}

func (e *RemoteEngine) setHandler(objectID string, fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.handlers[objectID] = fn
	e.mu.Unlock()
}

func (e *RemoteEngine) clearHandler(objectID string) {
	e.mu.Lock()
	delete(e.handlers, objectID)
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

type remotePipeline struct {
	engine *RemoteEngine
	id     string
}

func (p *remotePipeline) CreateEndpoint(ctx context.Context) (Endpoint, error) {
	res, err := p.engine.call(ctx, methodCreate, createParams{
		Type:              typeEndpoint,
		ConstructorParams: map[string]string{"mediaPipeline": p.id},
	})
	if err != nil {
		return nil, err
	}
	id, err := res.resultString()
	if err != nil {
		return nil, err
	}

	// Subscribe to candidate discovery up front so no event can be missed
	// between GatherCandidates and a later subscription.
	if _, err := p.engine.call(ctx, methodSubscribe, subscribeParams{
		Object: id,
		Type:   eventCandidateFound,
	}); err != nil {
		_, _ = p.engine.call(ctx, methodRelease, releaseParams{Object: id})
		return nil, err
	}

	return &remoteEndpoint{engine: p.engine, id: id}, nil
}

func (p *remotePipeline) Release() error {
	_, err := p.engine.call(context.Background(), methodRelease, releaseParams{Object: p.id})
	return err
}

// ---------------------------------------------------------------------------
// Endpoint
// ---------------------------------------------------------------------------

type remoteEndpoint struct {
	engine *RemoteEngine
	id     string
}

func (ep *remoteEndpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	res, err := ep.engine.call(ctx, methodInvoke, invokeParams{
		Object:          ep.id,
		Operation:       opProcessOffer,
		OperationParams: map[string]string{"offer": offer},
	})
	if err != nil {
		return "", err
	}
	return res.resultString()
}

func (ep *remoteEndpoint) AddCandidate(ctx context.Context, cand webrtc.ICECandidateInit) error {
	_, err := ep.engine.call(ctx, methodInvoke, invokeParams{
		Object:          ep.id,
		Operation:       opAddCandidate,
		OperationParams: map[string]interface{}{"candidate": toWireCandidate(cand)},
	})
	return err
}

func (ep *remoteEndpoint) GatherCandidates(ctx context.Context) error {
	_, err := ep.engine.call(ctx, methodInvoke, invokeParams{
		Object:    ep.id,
		Operation: opGatherCandidates,
	})
	return err
}

func (ep *remoteEndpoint) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	ep.engine.setHandler(ep.id, fn)
}

func (ep *remoteEndpoint) Connect(ctx context.Context, sink Endpoint) error {
	remoteSink, ok := sink.(*remoteEndpoint)
	if !ok {
		return fmt.Errorf("cannot connect endpoints from different engines")
	}
	_, err := ep.engine.call(ctx, methodInvoke, invokeParams{
		Object:          ep.id,
		Operation:       opConnect,
		OperationParams: map[string]string{"sink": remoteSink.id},
	})
	return err
}

func (ep *remoteEndpoint) Release() error {
	ep.engine.clearHandler(ep.id)
	_, err := ep.engine.call(context.Background(), methodRelease, releaseParams{Object: ep.id})
	return err
}
