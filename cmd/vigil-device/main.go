// Command vigil-device runs the door agent against a Vigil server with
// stdin standing in for the sensor and keypad:
//
//	m          motion pulse
//	a <code>   enter a code on the keypad
//	d          request a one-time code
//	q          quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Vigil/server/internal/device"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL string
		deviceID  string
		secret    string
		protobuf  bool
		stabilize time.Duration
		cooldown  time.Duration
	)

	flagSet := pflag.NewFlagSet("vigil-device", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", envOr("VIGIL_SERVER_URL", "http://localhost:8080"), "Vigil server base URL")
	flagSet.StringVar(&deviceID, "device-id", envOr("VIGIL_DEVICE_ID", "door"), "identifier sent with triggers")
	flagSet.StringVar(&secret, "secret", envOr("VIGIL_DEVICE_SECRET", device.DefaultSecret), "initial standing keypad code")
	flagSet.BoolVar(&protobuf, "protobuf", false, "send protobuf bodies instead of JSON")
	flagSet.DurationVar(&stabilize, "stabilize", device.DefaultStabilize, "quiet period before motion fires a trigger")
	flagSet.DurationVar(&cooldown, "cooldown", device.DefaultCooldown, "minimum gap between accepted triggers")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := log.New(os.Stdout, "vigil-device ", log.LstdFlags|log.LUTC)

	standing, err := device.NewSecret(secret)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := newConsole()
	go func() {
		input.read(os.Stdin)
		stop()
	}()

	agent := device.NewAgent(device.AgentDependencies{
		Server: device.NewClient(device.ClientConfig{
			BaseURL:  serverURL,
			DeviceID: deviceID,
			Protobuf: protobuf,
		}, nil),
		Sensor:   input,
		Keypad:   input,
		Actuator: device.LogActuator{Logger: logger},
		Secret:   standing,
		Logger:   logger,
		Config:   device.AgentConfig{Stabilize: stabilize, Cooldown: cooldown},
	})

	logger.Printf("connected to %s as %s", serverURL, deviceID)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// console turns stdin lines into sensor pulses and keypad events.
type console struct {
	motion chan struct{}
	keys   chan device.KeyEvent
}

func newConsole() *console {
	return &console{
		motion: make(chan struct{}, 16),
		keys:   make(chan device.KeyEvent, 16),
	}
}

func (c *console) read(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "m":
			c.motion <- struct{}{}
		case "a":
			c.keys <- device.KeyEvent{Kind: device.EnterCode, Code: strings.TrimSpace(arg)}
		case "d":
			c.keys <- device.KeyEvent{Kind: device.RequestCode}
		case "q":
			return
		}
	}
}

// Active reports one tick of sensor output per motion pulse.
func (c *console) Active() bool {
	select {
	case <-c.motion:
		return true
	default:
		return false
	}
}

func (c *console) Next() (device.KeyEvent, bool) {
	select {
	case ev := <-c.keys:
		return ev, true
	default:
		return device.KeyEvent{}, false
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
