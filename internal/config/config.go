// Package config holds the server configuration types.
package config

// EngineMode selects which media engine backs the broadcast rooms.
type EngineMode string

const (
	// EngineRemote talks JSON-RPC to an external media server over WebSocket.
	EngineRemote EngineMode = "remote"
	// EngineLocal runs an in-process engine for development and tests.
	EngineLocal EngineMode = "local"
)

// Config stores all parameters gathered from CLI flags.
type Config struct {
	Addr      string     // listen address for signaling + static pages
	CertFile  string     // TLS certificate; plain HTTP when empty
	KeyFile   string     // TLS key
	StaticDir string     // directory with the browser demo pages
	Engine    EngineMode // remote or local
	EngineURL string     // remote engine WebSocket URL (remote mode only)
	Debug     bool       // enable debug logging
}
