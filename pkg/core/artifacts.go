package core

import (
	"fmt"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"
)

// Image is an encoded still image ready to be stored or sent to an oracle
type Image struct {
	ContentType string
	Data        []byte
	Width       int // Pixel size after encoding
	Height      int

	// Size of the raw capture before resizing, in the screen's current
	// orientation. Zero when unknown.
	SourceWidth  int
	SourceHeight int
}

// ScreenshotKey returns the artifact key of a step screenshot
func ScreenshotKey(runID string, index int) string {
	return fmt.Sprintf("runs/%s/steps/%04d.jpg", runID, index)
}
