// Package device is the door-side agent: it turns sensor edges into
// trigger requests, handles keypad entry and runs commands relayed from
// the mobile app.
package device

import (
	"context"
	"time"
)

const (
	DefaultStabilize = 3 * time.Second
	DefaultCooldown  = 5 * time.Second
)

type Decision int

const (
	// Idle means no window is open.
	Idle Decision = iota
	// Pending means a window is open but motion has not settled.
	Pending
	// Dropped means the window closed inside the cooldown; nothing was sent.
	Dropped
	// Fired means the server accepted the trigger.
	Fired
	// Rejected means the trigger was sent but refused or failed.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Dropped:
		return "dropped"
	case Fired:
		return "fired"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TriggerFunc sends one coalesced trigger downstream. accepted is false
// when the server answered busy.
type TriggerFunc func(ctx context.Context) (accepted bool, err error)

// Debouncer coalesces bursts of motion edges into one trigger once the
// sensor has been quiet for Stabilize, and suppresses triggers within
// Cooldown of the last accepted one. It is not safe for concurrent use;
// the agent loop owns it.
type Debouncer struct {
	stabilize time.Duration
	cooldown  time.Duration
	trigger   TriggerFunc

	open   bool
	anchor time.Time

	fired       bool
	lastSuccess time.Time
}

func NewDebouncer(stabilize, cooldown time.Duration, trigger TriggerFunc) *Debouncer {
	if stabilize <= 0 {
		stabilize = DefaultStabilize
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Debouncer{stabilize: stabilize, cooldown: cooldown, trigger: trigger}
}

// OnEdge records a rising edge. An edge inside an open window restarts
// the wait.
func (d *Debouncer) OnEdge(now time.Time) {
	d.open = true
	d.anchor = now
}

// Check closes the window once motion has settled and decides whether to
// send the trigger. Call it on every loop tick.
func (d *Debouncer) Check(ctx context.Context, now time.Time) Decision {
	if !d.open {
		return Idle
	}
	if now.Sub(d.anchor) < d.stabilize {
		return Pending
	}
	d.open = false

	if d.fired && now.Sub(d.lastSuccess) < d.cooldown {
		return Dropped
	}

	accepted, err := d.trigger(ctx)
	if err != nil || !accepted {
		return Rejected
	}
	d.fired = true
	d.lastSuccess = now
	return Fired
}

// Remaining reports how much cooldown is left at now.
func (d *Debouncer) Remaining(now time.Time) time.Duration {
	if !d.fired {
		return 0
	}
	if left := d.cooldown - now.Sub(d.lastSuccess); left > 0 {
		return left
	}
	return 0
}
