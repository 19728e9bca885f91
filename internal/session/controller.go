// Package session coordinates one verification attempt: capture →
// pipeline → matcher → success callback. State lives in an explicit
// controller rather than ambient globals.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateOpen
	StateCompleting
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCompleting:
		return "completing"
	default:
		return "idle"
	}
}

// ErrNoSession indicates Succeed was called with no open session.
var ErrNoSession = errors.New("no open verification session")

// Info identifies what a verification session is for. The class is not
// known until the authorizer resolves the token, so only the student and
// the presented token are recorded.
type Info struct {
	StudentID uuid.UUID
	Token     string
}

// SuccessFunc performs the attendance authorization call once verification
// accepts.
type SuccessFunc func(ctx context.Context) error

// Controller holds at most one pending verification. Opening a new session
// while one is active replaces the previous callback, so each verification
// attempt gets its own controller; controllers are never shared across
// concurrent requests.
type Controller struct {
	mu        sync.Mutex
	state     State
	info      Info
	onSuccess SuccessFunc
}

func NewController() *Controller {
	return &Controller{}
}

// Open starts a session, replacing any previous pending callback.
func (c *Controller) Open(info Info, onSuccess SuccessFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateOpen
	c.info = info
	c.onSuccess = onSuccess
}

// Succeed runs the pending callback and then closes the session. The session
// closes regardless of the callback's outcome; the callback error is
// returned to the caller.
func (c *Controller) Succeed(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOpen || c.onSuccess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	cb := c.onSuccess
	c.state = StateCompleting
	c.mu.Unlock()

	err := cb(ctx)
	c.Close()
	return err
}

// Close clears all session state unconditionally. Safe to call multiple
// times and from any state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.info = Info{}
	c.onSuccess = nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the open session's info, if any.
func (c *Controller) Current() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return Info{}, false
	}
	return c.info, true
}
