// Package health tracks whether the server is accepting tool calls.
package health

import (
	"fmt"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks the readiness state of the server.
// It is safe for concurrent use.
type Checker struct {
	state   atomic.Int32
	changed atomic.Int64
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	c := &Checker{}
	c.touch()
	return c
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
	c.touch()
}

// SetDraining transitions to the Draining state. Tool calls arriving while
// draining are refused.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
	c.touch()
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// Since returns when the current state was entered.
func (c *Checker) Since() time.Time {
	return time.Unix(0, c.changed.Load())
}

// Ready returns nil when tool calls may proceed.
func (c *Checker) Ready() error {
	if c.IsReady() {
		return nil
	}
	return fmt.Errorf("server is %s", c.State())
}

func (c *Checker) touch() {
	c.changed.Store(time.Now().UnixNano())
}
