// Package screen captures device screenshots and encodes them for the oracles.
package screen

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/device"
)

// Options controls the encoded frame.
type Options struct {
	Ratio    float64 // Resize factor applied to both sides
	Quality  int     // Starting JPEG quality
	MaxBytes int     // Quality steps down until the frame fits; 0 = no limit
}

// DefaultOptions halves the frame at quality 90 under 1 MiB
func DefaultOptions() Options {
	return Options{Ratio: 0.5, Quality: 90, MaxBytes: 1 << 20}
}

// qualitySteps are tried after the configured quality when a frame is too large.
var qualitySteps = []int{80, 70, 60, 50, 40}

// Capturer grabs and encodes the current screen of a device.
type Capturer struct {
	dev  device.Executor
	opts Options
}

// NewCapturer creates a capturer over dev
func NewCapturer(dev device.Executor, opts Options) *Capturer {
	if opts.Ratio <= 0 || opts.Ratio > 1 {
		opts.Ratio = 1
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 90
	}
	return &Capturer{dev: dev, opts: opts}
}

// Capture returns the screen of serial as a resized JPEG
func (c *Capturer) Capture(ctx context.Context, serial string) (core.Image, error) {
	raw, err := c.dev.Execute(ctx, serial, "exec-out", "screencap", "-p")
	if err != nil {
		return core.Image{}, core.ErrScreenCapture.WithCause(err).WithDetails(map[string]interface{}{"serial": serial})
	}
	if len(raw) == 0 {
		return core.Image{}, core.ErrScreenCapture.WithMessage("screen capture returned no data").
			WithDetails(map[string]interface{}{"serial": serial})
	}
	img, err := Encode(raw, c.opts)
	if err != nil {
		return core.Image{}, core.ErrScreenCapture.WithCause(err).WithDetails(map[string]interface{}{"serial": serial})
	}
	return img, nil
}

// Encode decodes a PNG (or any registered format), resizes it and
// re-encodes it as JPEG.
func Encode(raw []byte, opts Options) (core.Image, error) {
	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return core.Image{}, fmt.Errorf("decode screenshot: %w", err)
	}

	b := src.Bounds()
	w := int(float64(b.Dx()) * opts.Ratio)
	if w < 1 {
		w = 1
	}
	frame := src
	if w != b.Dx() {
		frame = imaging.Resize(src, w, 0, imaging.Lanczos)
	}

	qualities := []int{opts.Quality}
	for _, q := range qualitySteps {
		if q < opts.Quality {
			qualities = append(qualities, q)
		}
	}

	var buf bytes.Buffer
	for _, q := range qualities {
		buf.Reset()
		if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return core.Image{}, fmt.Errorf("encode jpeg (q=%d): %w", q, err)
		}
		if opts.MaxBytes <= 0 || buf.Len() <= opts.MaxBytes {
			break
		}
	}

	fb := frame.Bounds()
	return core.Image{
		ContentType:  core.ContentTypeJPEG,
		Data:         append([]byte(nil), buf.Bytes()...),
		Width:        fb.Dx(),
		Height:       fb.Dy(),
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
	}, nil
}
