package device_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BrandonDHaskell/Vigil/server/internal/device"
	"github.com/BrandonDHaskell/Vigil/server/internal/httpapi"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/credential"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/mailbox"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/pipeline"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/service"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

type quickRunner struct{}

func (quickRunner) Run(context.Context) pipeline.Outcome {
	return pipeline.Outcome{Kind: pipeline.ConditionNotMet}
}

// newServer runs the real HTTP API on in-memory state.
func newServer(t *testing.T) (*httptest.Server, *service.CommandService) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	triggers := service.NewTriggerService(service.TriggerDependencies{Runner: quickRunner{}, Logger: logger})
	creds := service.NewCredentialService(credential.NewStore(0), nil, nil, nil, logger)
	commands := service.NewCommandService(mailbox.New(0), nil, nil, nil, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		TriggerService:    triggers,
		CredentialService: creds,
		CommandService:    commands,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		triggers.Close(context.Background())
	})
	return ts, commands
}

func TestClient_RoundTrips(t *testing.T) {
	for _, protobuf := range []bool{false, true} {
		ts, commands := newServer(t)
		c := device.NewClient(device.ClientConfig{BaseURL: ts.URL + "/", Protobuf: protobuf}, nil)
		ctx := context.Background()

		accepted, err := c.Trigger(ctx)
		if err != nil {
			t.Fatalf("protobuf=%v Trigger: %v", protobuf, err)
		}
		if !accepted {
			t.Errorf("protobuf=%v: expected accepted", protobuf)
		}

		code, err := c.IssueCode(ctx)
		if err != nil {
			t.Fatalf("protobuf=%v IssueCode: %v", protobuf, err)
		}
		ok, err := c.VerifyCode(ctx, code)
		if err != nil || !ok {
			t.Errorf("protobuf=%v: expected code valid, got %v %v", protobuf, ok, err)
		}
		ok, err = c.VerifyCode(ctx, code)
		if err != nil || ok {
			t.Errorf("protobuf=%v: expected replay invalid, got %v %v", protobuf, ok, err)
		}

		if _, has, err := c.PollCommand(ctx); err != nil || has {
			t.Errorf("protobuf=%v: expected empty poll, got %v %v", protobuf, has, err)
		}
		if _, err := commands.Enqueue(ctx, types.EnqueueCommandRequest{Command: "lock"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		cmd, has, err := c.PollCommand(ctx)
		if err != nil || !has || cmd != "lock" {
			t.Errorf("protobuf=%v: expected lock, got %q %v %v", protobuf, cmd, has, err)
		}
	}
}

func TestClient_MalformedCodeIsServerError(t *testing.T) {
	ts, _ := newServer(t)
	c := device.NewClient(device.ClientConfig{BaseURL: ts.URL}, nil)

	_, err := c.VerifyCode(context.Background(), "12")
	if !errors.Is(err, device.ErrServer) {
		t.Errorf("expected ErrServer, got %v", err)
	}
}

func TestClient_SendsRequestID(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"has_command":false}`)
	}))
	t.Cleanup(ts.Close)

	c := device.NewClient(device.ClientConfig{BaseURL: ts.URL}, ts.Client())
	if _, _, err := c.PollCommand(context.Background()); err != nil {
		t.Fatalf("PollCommand: %v", err)
	}
	if got == "" {
		t.Error("expected X-Request-ID header")
	}
}
