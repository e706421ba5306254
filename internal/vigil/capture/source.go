// Package capture fetches still frames from the door device's camera.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
)

// ErrSourceUnavailable is returned once every attempt has failed.
var ErrSourceUnavailable = errors.New("capture source unavailable")

// DefaultPaths is the probe order for the device's image endpoint. The
// firmware build decides which one answers.
var DefaultPaths = []string{
	"",
	"/capture",
	"/photo.jpg",
	"/image.jpg",
	"/snapshot",
	"/camera",
	"/jpg",
	"/photo",
}

// maxFrameBytes caps a single frame; UXGA JPEGs from the device are well
// under 1 MiB.
const maxFrameBytes = 8 << 20

type Frame struct {
	Data        []byte
	URL         string
	ContentType string
}

// Source fetches one frame. Implementations return ErrSourceUnavailable
// instead of transport errors.
type Source interface {
	Fetch(ctx context.Context) (Frame, error)
}

type Config struct {
	BaseURL        string
	Paths          []string
	MaxRetries     int           // attempts over the full path list; default 3
	RetryDelay     time.Duration // between attempts; default 3s
	RequestTimeout time.Duration // per request; default 30s
}

func (c *Config) applyDefaults() {
	if len(c.Paths) == 0 {
		c.Paths = DefaultPaths
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// HTTPSource probes the device's candidate image paths over HTTP.
type HTTPSource struct {
	cfg    Config
	client *http.Client
	clock  clock.Clock
	logger *log.Logger
}

func NewHTTPSource(cfg Config, client *http.Client, clk clock.Clock, logger *log.Logger) *HTTPSource {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &HTTPSource{cfg: cfg, client: client, clock: clk, logger: logger}
}

func (s *HTTPSource) Fetch(ctx context.Context) (Frame, error) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		for _, p := range s.cfg.Paths {
			if ctx.Err() != nil {
				return Frame{}, ErrSourceUnavailable
			}
			frame, err := s.probe(ctx, p)
			if err == nil {
				return frame, nil
			}
			s.logger.Printf("capture probe url=%s attempt=%d/%d: %v",
				s.cfg.BaseURL+p, attempt, s.cfg.MaxRetries, err)
		}

		if attempt < s.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return Frame{}, ErrSourceUnavailable
			case <-s.clock.After(s.cfg.RetryDelay):
			}
		}
	}
	return Frame{}, ErrSourceUnavailable
}

func (s *HTTPSource) probe(ctx context.Context, path string) (Frame, error) {
	url := s.cfg.BaseURL + path

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !isImage(ct, path) {
		return Frame{}, fmt.Errorf("not an image (content-type=%q)", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return Frame{}, errors.New("empty body")
	}
	return Frame{Data: data, URL: url, ContentType: ct}, nil
}

func isImage(contentType, path string) bool {
	if strings.Contains(strings.ToLower(contentType), "image") {
		return true
	}
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".jpg") || strings.HasSuffix(p, ".jpeg") || strings.HasSuffix(p, ".png")
}
