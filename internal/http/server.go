package http

import (
	"context"
	"net"
	"net/http"
	"time"
)

// NewServer builds the worker's http.Server. Every request context derives from
// base, so cancelling base cancels in-flight transfers and lets them abort.
func NewServer(base context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return base
		},
	}
}
