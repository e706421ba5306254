// Package face decides whether a captured frame shows a face.
package face

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	_ "image/jpeg"
	_ "image/png"
	"os"

	pigo "github.com/esimov/pigo/core"
)

var ErrUndecodable = errors.New("frame is not a decodable image")

type Classifier interface {
	HasFace(ctx context.Context, img []byte) (bool, error)
}

type Config struct {
	CascadePath string
	MinSize     int     // smallest face edge in pixels; default 30
	MaxSize     int     // default 1000
	ShiftFactor float64 // default 0.1
	ScaleFactor float64 // default 1.1
	// MinQuality is the detection score a cluster must reach; default 5.
	MinQuality float32
	// IoUThreshold merges overlapping detections; default 0.2.
	IoUThreshold float64
}

func (c *Config) applyDefaults() {
	if c.MinSize <= 0 {
		c.MinSize = 30
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.ShiftFactor <= 0 {
		c.ShiftFactor = 0.1
	}
	if c.ScaleFactor <= 0 {
		c.ScaleFactor = 1.1
	}
	if c.MinQuality <= 0 {
		c.MinQuality = 5
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = 0.2
	}
}

// Pigo runs a pigo pixel-intensity cascade over the frame. The unpacked
// cascade is read-only, so one instance serves concurrent callers.
type Pigo struct {
	cfg     Config
	cascade *pigo.Pigo
}

func NewPigo(cfg Config) (*Pigo, error) {
	cfg.applyDefaults()

	raw, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", cfg.CascadePath, err)
	}
	cascade, err := pigo.NewPigo().Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade %s: %w", cfg.CascadePath, err)
	}
	return &Pigo{cfg: cfg, cascade: cascade}, nil
}

func (p *Pigo) HasFace(_ context.Context, img []byte) (bool, error) {
	pixels, rows, cols, err := grayscale(img)
	if err != nil {
		return false, err
	}

	params := pigo.CascadeParams{
		MinSize:     p.cfg.MinSize,
		MaxSize:     p.cfg.MaxSize,
		ShiftFactor: p.cfg.ShiftFactor,
		ScaleFactor: p.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := p.cascade.RunCascade(params, 0.0)
	dets = p.cascade.ClusterDetections(dets, p.cfg.IoUThreshold)
	return countFaces(dets, p.cfg.MinQuality) > 0, nil
}

func grayscale(img []byte) (pixels []uint8, rows, cols int, err error) {
	if len(img) == 0 {
		return nil, 0, 0, ErrUndecodable
	}
	src, err := pigo.DecodeImage(bytes.NewReader(img))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	b := src.Bounds()
	return pigo.RgbToGrayscale(src), b.Dy(), b.Dx(), nil
}

func countFaces(dets []pigo.Detection, minQ float32) int {
	n := 0
	for _, d := range dets {
		if d.Q >= minQ {
			n++
		}
	}
	return n
}
