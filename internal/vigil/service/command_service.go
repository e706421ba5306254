package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/mailbox"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

// ErrInvalidCommand covers unknown command names and malformed arguments.
var ErrInvalidCommand = errors.New("invalid command")

const (
	CommandUnlock         = "unlock"
	CommandLock           = "lock"
	CommandChangePassword = "change_password"
	CommandDisplayText    = "display_text"
	CommandTakePhoto      = "take_photo"
)

// ParseCommand validates a mobile command and returns the payload the
// device expects, e.g. "change_password:1234".
func ParseCommand(req types.EnqueueCommandRequest) (string, error) {
	name := strings.TrimSpace(req.Command)

	// The app may send "name:arg" in the command field itself.
	if n, arg, ok := strings.Cut(name, ":"); ok {
		name = n
		switch n {
		case CommandChangePassword:
			if req.Password == "" {
				req.Password = arg
			}
		case CommandDisplayText:
			if req.Text == "" {
				req.Text = arg
			}
		}
	}

	switch name {
	case CommandUnlock, CommandLock, CommandTakePhoto:
		return name, nil
	case CommandChangePassword:
		if !allDigits(req.Password) {
			return "", fmt.Errorf("%w: password must be digits", ErrInvalidCommand)
		}
		return CommandChangePassword + ":" + req.Password, nil
	case CommandDisplayText:
		if strings.TrimSpace(req.Text) == "" {
			return "", fmt.Errorf("%w: text is required", ErrInvalidCommand)
		}
		return CommandDisplayText + ":" + req.Text, nil
	case "":
		return "", fmt.Errorf("%w: command is required", ErrInvalidCommand)
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Capturer is the part of the pipeline the command path needs. Neither
// call goes through the trigger gate.
type Capturer interface {
	Capture(ctx context.Context) (capture.Frame, error)
	Snapshot(ctx context.Context) (capture.Frame, error)
}

type CommandService struct {
	box      *mailbox.Mailbox
	capturer Capturer
	recorder Recorder
	clock    clock.Clock
	logger   *log.Logger

	// snapshotTimeout bounds the background legacy capture.
	snapshotTimeout time.Duration

	wg sync.WaitGroup
}

func NewCommandService(box *mailbox.Mailbox, capturer Capturer, rec Recorder, clk clock.Clock, logger *log.Logger) *CommandService {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CommandService{
		box:             box,
		capturer:        capturer,
		recorder:        orNop(rec),
		clock:           clk,
		logger:          logger,
		snapshotTimeout: 2 * time.Minute,
	}
}

// Enqueue validates and queues a command for the device. take_photo is
// not queued here; callers route it to TakePhoto.
func (s *CommandService) Enqueue(_ context.Context, req types.EnqueueCommandRequest) (types.EnqueueCommandResponse, error) {
	payload, err := ParseCommand(req)
	if err != nil {
		return types.EnqueueCommandResponse{}, err
	}
	return s.push(payload), nil
}

func (s *CommandService) push(payload string) types.EnqueueCommandResponse {
	evicted := s.box.Enqueue(mailbox.Command{Payload: payload, EnqueuedAt: s.clock.Now()})
	depth := s.box.Len()
	s.recorder.Enqueued(commandName(payload), evicted, depth)
	if evicted {
		s.logger.Printf("mailbox full: dropped oldest command (depth=%d)", depth)
	}
	s.logger.Printf("command queued name=%s depth=%d", commandName(payload), depth)
	return types.EnqueueCommandResponse{Status: "queued", Command: payload, Evicted: evicted}
}

// Poll hands the oldest queued command to the device.
func (s *CommandService) Poll(_ context.Context) types.PollCommandResponse {
	cmd, ok := s.box.Dequeue()
	if !ok {
		return types.PollCommandResponse{}
	}
	s.recorder.Delivered(commandName(cmd.Payload), s.box.Len())
	return types.PollCommandResponse{
		HasCommand: true,
		Command:    cmd.Payload,
		EnqueuedAt: cmd.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

// Pending reports queued commands.
func (s *CommandService) Pending() int { return s.box.Len() }

// TakePhoto captures one frame now and returns it to the caller.
func (s *CommandService) TakePhoto(ctx context.Context) (types.TakePhotoResponse, error) {
	frame, err := s.capturer.Capture(ctx)
	if err != nil {
		return types.TakePhotoResponse{}, err
	}
	s.logger.Printf("take_photo: captured %d bytes from %s", len(frame.Data), frame.URL)
	return types.TakePhotoResponse{
		Status:      "success",
		Command:     CommandTakePhoto,
		ImageBase64: base64.StdEncoding.EncodeToString(frame.Data),
		ImageSize:   len(frame.Data),
		SourceURL:   frame.URL,
	}, nil
}

// QueueSnapshot is the legacy take_photo path: it queues the command for
// the device and mails a single frame in the background.
func (s *CommandService) QueueSnapshot(_ context.Context) types.EnqueueCommandResponse {
	resp := s.push(CommandTakePhoto)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.snapshotTimeout)
		defer cancel()
		frame, err := s.capturer.Snapshot(ctx)
		if err != nil {
			s.logger.Printf("snapshot error: %v", err)
			return
		}
		s.logger.Printf("snapshot delivered (%d bytes from %s)", len(frame.Data), frame.URL)
	}()
	return resp
}

// Close waits for background snapshots.
func (s *CommandService) Close() {
	s.wg.Wait()
}

func commandName(payload string) string {
	name, _, _ := strings.Cut(payload, ":")
	return name
}
