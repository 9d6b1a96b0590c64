// Livestream — broadcast server entry point.
//
// This server coordinates one-to-many WebRTC broadcasts: one presenter per
// room, any number of viewers. Browsers signal over WebSocket (/one2many);
// media flows through a media engine — either a remote one spoken to over
// JSON-RPC, or an in-process engine for development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/app"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/config"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	addr := flag.String("addr", ":8443", "Listen address for signaling and demo pages")
	cert := flag.String("cert", "", "TLS certificate file (plain HTTP when empty)")
	key := flag.String("key", "", "TLS key file")
	static := flag.String("static", "static", "Directory with the browser demo pages")
	engine := flag.String("engine", "local", "Media engine: 'local' (in-process) or 'remote'")
	engineURL := flag.String("engineUrl", "", "Remote engine WebSocket URL (e.g. ws://localhost:8888/engine)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Livestream — v%s", version))
	pterm.Println()

	if (*cert == "") != (*key == "") {
		util.LogError("-cert and -key must be given together")
		os.Exit(1)
	}

	cfg := config.Config{
		Addr:      *addr,
		CertFile:  *cert,
		KeyFile:   *key,
		StaticDir: *static,
		Engine:    config.EngineMode(*engine),
		EngineURL: *engineURL,
		Debug:     *debugMode,
	}

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("broadcast server closed")
}
