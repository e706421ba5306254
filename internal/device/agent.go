package device

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
)

// Sensor reports whether the motion sensor output is high.
type Sensor interface {
	Active() bool
}

type KeyEventKind int

const (
	// EnterCode submits a code typed on the keypad.
	EnterCode KeyEventKind = iota + 1
	// RequestCode asks the server for a one-time code.
	RequestCode
)

type KeyEvent struct {
	Kind KeyEventKind
	Code string
}

// Keypad yields completed keypad actions without blocking.
type Keypad interface {
	Next() (KeyEvent, bool)
}

// Actuator drives the lock, display and buzzer.
type Actuator interface {
	Unlock(via string)
	Lock()
	Display(text string)
	Deny()
}

type AgentConfig struct {
	Tick         time.Duration // loop period; default 100ms
	PollInterval time.Duration // command poll period; default 1s
	Stabilize    time.Duration
	Cooldown     time.Duration
}

type AgentDependencies struct {
	Server   Server
	Sensor   Sensor
	Keypad   Keypad
	Actuator Actuator
	Secret   *Secret
	Clock    clock.Clock
	Logger   *log.Logger
	Config   AgentConfig
}

// Agent is the device's cooperative loop. Everything it owns is touched
// only from Step, so it needs no locking.
type Agent struct {
	server   Server
	sensor   Sensor
	keypad   Keypad
	actuator Actuator
	secret   *Secret
	clock    clock.Clock
	logger   *log.Logger
	cfg      AgentConfig

	debouncer  *Debouncer
	lastSensor bool
	lastPoll   time.Time
	polled     bool
}

func NewAgent(d AgentDependencies) *Agent {
	if d.Config.Tick <= 0 {
		d.Config.Tick = 100 * time.Millisecond
	}
	if d.Config.PollInterval <= 0 {
		d.Config.PollInterval = time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	a := &Agent{
		server:   d.Server,
		sensor:   d.Sensor,
		keypad:   d.Keypad,
		actuator: d.Actuator,
		secret:   d.Secret,
		clock:    d.Clock,
		logger:   d.Logger,
		cfg:      d.Config,
	}
	a.debouncer = NewDebouncer(d.Config.Stabilize, d.Config.Cooldown, a.server.Trigger)
	return a
}

// Run steps the loop every Tick until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()

	a.logger.Printf("agent running (tick=%s, poll=%s)", a.cfg.Tick, a.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Step(ctx)
		}
	}
}

// Step runs one iteration: sensor, debouncer, keypad, then the command
// poll when it is due.
func (a *Agent) Step(ctx context.Context) {
	now := a.clock.Now()

	active := a.sensor != nil && a.sensor.Active()
	if active && !a.lastSensor {
		a.logger.Printf("motion detected")
		a.debouncer.OnEdge(now)
	}
	a.lastSensor = active

	switch a.debouncer.Check(ctx, now) {
	case Fired:
		a.logger.Printf("trigger accepted by server")
	case Rejected:
		a.logger.Printf("trigger not accepted (server busy or unreachable)")
	case Dropped:
		a.logger.Printf("motion settled inside cooldown (%s left); skipped", a.debouncer.Remaining(now))
	}

	if a.keypad != nil {
		for {
			ev, ok := a.keypad.Next()
			if !ok {
				break
			}
			a.handleKey(ctx, ev)
		}
	}

	if !a.polled || now.Sub(a.lastPoll) >= a.cfg.PollInterval {
		a.polled = true
		a.lastPoll = now
		a.pollCommand(ctx)
	}
}

func (a *Agent) handleKey(ctx context.Context, ev KeyEvent) {
	switch ev.Kind {
	case EnterCode:
		if a.secret != nil && a.secret.Matches(ev.Code) {
			a.logger.Printf("keypad: standing code accepted")
			a.actuator.Unlock("global")
			return
		}
		ok, err := a.server.VerifyCode(ctx, ev.Code)
		if err != nil {
			a.logger.Printf("keypad: verify error: %v", err)
		}
		if ok {
			a.logger.Printf("keypad: one-time code accepted")
			a.actuator.Unlock("temp")
			return
		}
		a.logger.Printf("keypad: code rejected")
		a.actuator.Deny()

	case RequestCode:
		code, err := a.server.IssueCode(ctx)
		if err != nil {
			a.logger.Printf("keypad: issue code error: %v", err)
			return
		}
		a.logger.Printf("keypad: one-time code issued")
		a.actuator.Display(code)
	}
}

func (a *Agent) pollCommand(ctx context.Context) {
	cmd, ok, err := a.server.PollCommand(ctx)
	if err != nil || !ok {
		// Polling is frequent; failures stay quiet.
		return
	}
	a.logger.Printf("command received: %s", commandName(cmd))
	a.Execute(cmd)
}

// Execute runs one relayed command and reports whether it was
// understood.
func (a *Agent) Execute(cmd string) bool {
	name, arg, _ := strings.Cut(cmd, ":")
	switch name {
	case "unlock":
		a.actuator.Unlock("remote")
	case "lock":
		a.actuator.Lock()
	case "change_password":
		if a.secret == nil {
			return false
		}
		if err := a.secret.Change(arg); err != nil {
			a.logger.Printf("change_password rejected: %v", err)
			return false
		}
		a.logger.Printf("standing code changed")
	case "display_text":
		a.actuator.Display(arg)
	case "take_photo":
		// The server captures and mails the frame itself.
	default:
		a.logger.Printf("unknown command %q", name)
		return false
	}
	return true
}

func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, ":")
	return name
}

// LogActuator stands in for real hardware by logging each action.
type LogActuator struct {
	Logger *log.Logger
}

func (l LogActuator) Unlock(via string)   { l.Logger.Printf("UNLOCK (%s)", via) }
func (l LogActuator) Lock()               { l.Logger.Printf("LOCK") }
func (l LogActuator) Display(text string) { l.Logger.Printf("DISPLAY %q", text) }
func (l LogActuator) Deny()               { l.Logger.Printf("DENIED") }
