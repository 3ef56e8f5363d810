//go:build !windows
// +build !windows

package platform

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NewShutdownContext returns a context canceled on SIGINT or SIGTERM.
// main waits on it before draining the HTTP server and stopping the
// cache and rate limiter background goroutines.
func NewShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
