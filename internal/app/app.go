// Package app contains the top-level orchestration for the broadcast server.
package app

import (
	"context"
	"fmt"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/config"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/media"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/registry"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/signal"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// Run orchestrates the full server lifecycle:
//  1. Pick the media engine (remote JSON-RPC or in-process)
//  2. Wire registry, candidate queue, and signaling server
//  3. Serve until ctx is cancelled
//
// The engine is dialed lazily: the first presenter acquires it, and it is
// released again when the last room closes.
func Run(ctx context.Context, cfg config.Config) error {
	dial, err := engineDialer(cfg)
	if err != nil {
		return err
	}

	engineRef := media.NewRef(dial)
	reg := registry.New()
	queue := signal.NewCandidateQueue()

	server := signal.NewServer(signal.ServerConfig{
		Addr:      cfg.Addr,
		CertFile:  cfg.CertFile,
		KeyFile:   cfg.KeyFile,
		StaticDir: cfg.StaticDir,
	}, reg, engineRef, queue)

	port, err := server.Start(ctx)
	if err != nil {
		return err
	}
	defer server.Close()

	util.StartStatsReporter(ctx)

	scheme := "ws"
	if cfg.CertFile != "" {
		scheme = "wss"
	}
	util.LogSuccess("broadcast server listening — signaling at %s://localhost:%d/one2many", scheme, port)

	<-ctx.Done()
	util.LogInfo("shutting down (%d rooms open)", reg.Rooms())
	return nil
}

// engineDialer maps the configured engine mode to a media.DialFunc.
func engineDialer(cfg config.Config) (media.DialFunc, error) {
	switch cfg.Engine {
	case config.EngineRemote:
		if cfg.EngineURL == "" {
			return nil, fmt.Errorf("remote engine mode requires an engine URL")
		}
		return func(ctx context.Context) (media.Engine, error) {
			return media.DialRemote(ctx, cfg.EngineURL)
		}, nil

	case config.EngineLocal:
		return func(ctx context.Context) (media.Engine, error) {
			return media.NewLocalEngine(), nil
		}, nil

	default:
		return nil, fmt.Errorf("invalid engine mode %q: must be 'remote' or 'local'", cfg.Engine)
	}
}
