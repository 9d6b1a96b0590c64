package signal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/media"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/registry"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts signaling WebSocket connections on /one2many and runs one
// Session per connection. It also serves the demo pages: / and the static
// assets, plus /role which routes a participant to the page for its role.
type Server struct {
	addr      string
	certFile  string
	keyFile   string
	staticDir string

	reg       *registry.Registry
	engineRef *media.Ref
	queue     *CandidateQueue

	listener net.Listener
	httpSrv  *http.Server
}

// ServerConfig carries the knobs the server needs.
type ServerConfig struct {
	Addr      string // listen address, e.g. ":8443"
	CertFile  string // TLS cert; plain HTTP when empty
	KeyFile   string
	StaticDir string // directory with the demo pages
}

// NewServer wires a signaling server over the shared registry, engine
// reference, and candidate queue.
func NewServer(cfg ServerConfig, reg *registry.Registry, engineRef *media.Ref, queue *CandidateQueue) *Server {
	return &Server{
		addr:      cfg.Addr,
		certFile:  cfg.CertFile,
		keyFile:   cfg.KeyFile,
		staticDir: cfg.StaticDir,
		reg:       reg,
		engineRef: engineRef,
		queue:     queue,
	}
}

// Start begins listening and serving. Returns the bound port so callers may
// pass ":0". Serving continues until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) (int, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start signaling server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/one2many", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/role", s.handleRole)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			err = s.httpSrv.ServeTLS(listener, s.certFile, s.keyFile)
		} else {
			err = s.httpSrv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("signaling server: %v", err)
		}
	}()

	return port, nil
}

// handleWS upgrades the connection and runs the session's read loop until
// the client disconnects or errors out.
func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	transport := newWSTransport(conn)
	session := NewSession(ctx, transport, s.reg, s.engineRef, s.queue, roomID)

	util.Stats.AddSession()
	util.LogDebug("session %s connected (room %q)", session.ID(), roomID)

	defer func() {
		session.Stop()
		transport.Close()
		util.Stats.RemoveSession()
		util.LogDebug("session %s disconnected", session.ID())
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("session %s: read: %v", session.ID(), err)
			}
			return
		}
		session.Handle(msg)
	}
}

// handleRole redirects a participant to the page for its role: host to the
// presenter page, viewer to the viewer page.
func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	var page string
	switch r.URL.Query().Get("userType") {
	case "host":
		page = "presenter.html"
	case "viewer":
		page = "viewer.html"
	default:
		http.Error(w, "unknown userType", http.StatusBadRequest)
		return
	}

	target := "/" + page
	if roomID := r.URL.Query().Get("roomId"); roomID != "" {
		target += "?roomId=" + url.QueryEscape(roomID)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Close shuts the server down, closing the listener and all connections.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
