// Package httpserver assembles the intake API's HTTP server from
// configuration.
package httpserver

import (
	"net/http"

	"kyc-engine/internal/platform/config"
)

// New builds the server for the given handler. Per-request deadlines come
// from the router's timeout middleware; this layer only bounds connection
// reads and idle keep-alives.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
