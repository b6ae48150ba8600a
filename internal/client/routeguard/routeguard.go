// Package routeguard decides where the presentation layer must navigate
// for a given session status.
package routeguard

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/client/session"
)

// Locations the guard navigates between.
const (
	// AuthLocation is the unauthenticated entry screen.
	AuthLocation = "/auth"
	// HomeLocation is the authenticated home screen.
	HomeLocation = "/"
)

// Decide returns the navigation target for status at location. navigate is
// false when the current location is acceptable or the status is still
// unknown.
func Decide(status session.Status, location string) (target string, navigate bool) {
	switch status {
	case session.StatusUnauthenticated:
		if location != AuthLocation {
			return AuthLocation, true
		}
	case session.StatusAuthenticated:
		if location == AuthLocation {
			return HomeLocation, true
		}
	}
	return "", false
}

// Navigator performs navigation in the presentation layer.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(target string) { f(target) }

// SessionSource is the part of the session store the guard observes.
type SessionSource interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Guard re-evaluates Decide whenever the session status or the location
// changes and issues navigations through a Navigator. Evaluating the same
// inputs twice never navigates twice.
type Guard struct {
	nav Navigator
	log *zap.Logger

	mu        sync.Mutex
	status    session.Status
	location  string
	evaluated bool
	unsub     func()
}

// New returns a Guard starting at location.
func New(nav Navigator, location string, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{nav: nav, location: location, log: log}
}

// Watch evaluates the current session state and then every transition of
// src until Stop is called.
func (g *Guard) Watch(src SessionSource) {
	unsub := src.Subscribe(func(st session.State) { g.SetStatus(st.Status) })
	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()
	g.SetStatus(src.State().Status)
}

// Stop ends Watch.
func (g *Guard) Stop() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Location returns the location the guard believes is current.
func (g *Guard) Location() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.location
}

// SetStatus records a session status and re-evaluates.
func (g *Guard) SetStatus(status session.Status) {
	g.evaluate(func() { g.status = status })
}

// SetLocation records a location change made by the user and re-evaluates.
func (g *Guard) SetLocation(location string) {
	g.evaluate(func() { g.location = location })
}

func (g *Guard) evaluate(update func()) {
	g.mu.Lock()
	prevStatus, prevLocation := g.status, g.location
	update()
	if g.evaluated && prevStatus == g.status && prevLocation == g.location {
		g.mu.Unlock()
		return
	}
	g.evaluated = true

	target, navigate := Decide(g.status, g.location)
	if navigate {
		g.location = target
	}
	status := g.status
	g.mu.Unlock()

	if navigate {
		g.log.Debug("route guard navigation", zap.Stringer("status", status), zap.String("target", target))
		g.nav.Navigate(target)
	}
}
