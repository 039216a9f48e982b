package device

import (
	"context"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/devicelab-dev/uiagent/pkg/logger"
)

// Size is a screen size in physical pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultSize is used when `wm size` cannot be read
var DefaultSize = Size{Width: 1080, Height: 2400}

// ParseSize extracts WIDTHxHEIGHT from `wm size` output. A
// "Physical size:" line wins; otherwise the first WxH pair is used.
func ParseSize(out string) (Size, bool) {
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Physical size:"); ok {
			if s, ok := parseWxH(strings.TrimSpace(rest)); ok {
				return s, true
			}
		}
	}
	for _, field := range strings.Fields(out) {
		if s, ok := parseWxH(field); ok {
			return s, true
		}
	}
	return Size{}, false
}

func parseWxH(s string) (Size, bool) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Size{}, false
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, false
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, false
	}
	return Size{Width: width, Height: height}, true
}

// ScreenResolver resolves and caches device screen sizes.
type ScreenResolver struct {
	exec  Executor
	def   Size
	cache *lru.Cache[string, Size]
}

// NewScreenResolver creates a resolver caching up to cacheSize devices.
func NewScreenResolver(e Executor, def Size, cacheSize int) *ScreenResolver {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	if def.Width <= 0 || def.Height <= 0 {
		def = DefaultSize
	}
	cache, _ := lru.New[string, Size](cacheSize) // only errors on size <= 0
	return &ScreenResolver{exec: e, def: def, cache: cache}
}

// Size returns the device's physical size. Failures fall back to the
// default size and are not cached, so the next run retries.
func (r *ScreenResolver) Size(ctx context.Context, serial string) Size {
	if s, ok := r.cache.Get(serial); ok {
		return s
	}

	out, err := Shell(ctx, r.exec, serial, "wm", "size")
	if err != nil {
		logger.Warn("screen size for %s: %v; using default %dx%d", serial, err, r.def.Width, r.def.Height)
		return r.def
	}
	s, ok := ParseSize(out)
	if !ok {
		logger.Warn("screen size for %s: unrecognized output %q; using default %dx%d", serial, out, r.def.Width, r.def.Height)
		return r.def
	}

	r.cache.Add(serial, s)
	return s
}

// Forget drops a cached size, e.g. after a device rotation or swap.
func (r *ScreenResolver) Forget(serial string) {
	r.cache.Remove(serial)
}
