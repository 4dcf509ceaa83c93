// Package transfer implements the one-shot download and upload sessions
// and the HTTP server that exposes them.
package transfer

import (
	"net"
	"net/http"
	"strconv"

	"github.com/jaywantadh/dhara/internal/metadata"
)

// Session is one sharing operation: it knows its route and serves it.
type Session interface {
	http.Handler
	// Route is the exact request path the session answers.
	Route() string
	// URL is the address a LAN peer opens to reach Route.
	URL() string
}

// Endpoint is where a session is reachable from the LAN.
type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) URL(route string) string {
	return "http://" + net.JoinHostPort(e.Address, strconv.Itoa(e.Port)) + route
}

// Recorder persists transfer outcomes.
type Recorder interface {
	PutRecord(rec metadata.TransferRecord) error
}

// lifecycle is implemented by sessions that track the server state.
type lifecycle interface {
	onListen()
	onStop()
}
