package chat

import "time"

// Config is the chat server configuration.
type Config struct {
	// Address to listen on (e.g., ":8501")
	ListenAddr string

	// Version is reported by /health and the MCP endpoint.
	Version string

	// SessionIdleTimeout drops sessions idle for longer. Zero keeps them
	// for the life of the process.
	SessionIdleTimeout time.Duration

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}
