// Package authz tracks the location-permission state reported by the host device.
package authz

import (
	"sync"

	"github.com/rs/zerolog/log"

	"mileage/internal/model"
)

// HasPermission is true for when-in-use and always.
func HasPermission(st model.AuthorizationState) bool {
	return st == model.AuthWhenInUse || st == model.AuthAlways
}

// NeedsElevation reports whether background tracking needs an "always" upgrade.
func NeedsElevation(st model.AuthorizationState) bool { return st == model.AuthWhenInUse }

// Describe is the user-facing label for a state.
func Describe(st model.AuthorizationState) string {
	switch st {
	case model.AuthNotDetermined:
		return "Not determined"
	case model.AuthRestricted:
		return "Restricted"
	case model.AuthDenied:
		return "Denied"
	case model.AuthAlways:
		return "Always (background tracking enabled)"
	case model.AuthWhenInUse:
		return "When In Use (upgrade for background)"
	}
	return "Unknown"
}

// Provider is the authorization collaborator consumed by the tracker.
// Request calls are fire-and-forget; results arrive as state changes.
type Provider interface {
	State() model.AuthorizationState
	RequestPermission()
	RequestElevatedPermission()
	Subscribe() <-chan model.AuthorizationState
	Unsubscribe(ch <-chan model.AuthorizationState)
}

// GrantPolicy decides how a pending prompt resolves. Nil leaves the state untouched
// until the host calls Set.
type GrantPolicy func(current model.AuthorizationState, elevated bool) model.AuthorizationState

// AutoGrant answers every prompt positively.
func AutoGrant(current model.AuthorizationState, elevated bool) model.AuthorizationState {
	if elevated {
		return model.AuthAlways
	}
	if current == model.AuthAlways {
		return current
	}
	return model.AuthWhenInUse
}

// Device is an in-process Provider whose state is driven by the host.
type Device struct {
	mu       sync.Mutex
	state    model.AuthorizationState
	policy   GrantPolicy
	subs     map[chan model.AuthorizationState]struct{}
	requests int
	elevates int
}

func NewDevice(initial model.AuthorizationState, policy GrantPolicy) *Device {
	if initial == "" {
		initial = model.AuthNotDetermined
	}
	return &Device{state: initial, policy: policy, subs: map[chan model.AuthorizationState]struct{}{}}
}

func (d *Device) State() model.AuthorizationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Set records a state reported by the host and notifies subscribers.
func (d *Device) Set(st model.AuthorizationState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == st {
		return
	}
	d.state = st
	log.Info().Str("state", string(st)).Msg("location authorization changed")
	for ch := range d.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (d *Device) RequestPermission() { d.request(false) }

func (d *Device) RequestElevatedPermission() { d.request(true) }

func (d *Device) request(elevated bool) {
	d.mu.Lock()
	if elevated {
		d.elevates++
	} else {
		d.requests++
	}
	cur, policy := d.state, d.policy
	d.mu.Unlock()
	if policy == nil {
		return
	}
	go d.Set(policy(cur, elevated))
}

// Requests returns how many plain and elevated prompts were issued.
func (d *Device) Requests() (plain, elevated int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests, d.elevates
}

func (d *Device) Subscribe() <-chan model.AuthorizationState {
	ch := make(chan model.AuthorizationState, 4)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	return ch
}

func (d *Device) Unsubscribe(ch <-chan model.AuthorizationState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.subs {
		if c == ch {
			delete(d.subs, c)
			close(c)
			return
		}
	}
}
