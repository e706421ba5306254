package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/types"
)

// ErrServer wraps any non-2xx answer from the server.
var ErrServer = errors.New("server error")

// Server is what the agent needs from the coordination server.
type Server interface {
	Trigger(ctx context.Context) (accepted bool, err error)
	IssueCode(ctx context.Context) (string, error)
	VerifyCode(ctx context.Context, code string) (bool, error)
	PollCommand(ctx context.Context) (command string, ok bool, err error)
}

type ClientConfig struct {
	BaseURL  string
	DeviceID string
	// Protobuf sends structpb bodies instead of JSON.
	Protobuf bool
	Timeout  time.Duration // per request; default 10s
}

// Client talks to the server's /v1 routes over HTTP.
type Client struct {
	cfg ClientConfig
	hc  *http.Client
	now func() time.Time
}

func NewClient(cfg ClientConfig, hc *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "door"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, hc: hc, now: time.Now}
}

func (c *Client) Trigger(ctx context.Context) (bool, error) {
	req := types.TriggerRequest{
		Action:    "motion_detected",
		Device:    c.cfg.DeviceID,
		Trigger:   "pir",
		Timestamp: float64(c.now().UnixMilli()) / 1000,
	}
	var resp types.TriggerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/trigger", req, &resp); err != nil {
		return false, err
	}
	return resp.Status == types.TriggerAccepted, nil
}

func (c *Client) IssueCode(ctx context.Context) (string, error) {
	var resp types.IssueCredentialResponse
	if err := c.do(ctx, http.MethodPost, "/v1/credentials", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

func (c *Client) VerifyCode(ctx context.Context, code string) (bool, error) {
	var resp types.VerifyCredentialResponse
	if err := c.do(ctx, http.MethodPost, "/v1/credentials/verify", types.VerifyCredentialRequest{Code: code}, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *Client) PollCommand(ctx context.Context) (string, bool, error) {
	var resp types.PollCommandResponse
	if err := c.do(ctx, http.MethodGet, "/v1/commands/next", nil, &resp); err != nil {
		return "", false, err
	}
	return resp.Command, resp.HasCommand, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	contentType := "application/json"
	if in != nil {
		raw, err := c.encode(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
		if c.cfg.Protobuf {
			contentType = "application/x-protobuf"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.Protobuf {
		req.Header.Set("Accept", "application/x-protobuf")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s %s: %d %s", ErrServer, method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return c.decode(resp.Header.Get("Content-Type"), raw, out)
}

func (c *Client) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil || !c.cfg.Protobuf {
		return raw, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func (c *Client) decode(contentType string, raw []byte, out any) error {
	if !strings.HasPrefix(contentType, "application/x-protobuf") {
		return json.Unmarshal(raw, out)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return err
	}
	js, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(js, out)
}
