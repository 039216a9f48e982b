// Package action turns an oracle's action line into a typed device command
// and dispatches it over adb.
package action

import (
	"fmt"
	"math"
)

// Verbs understood by the parser
const (
	VerbClick     = "click"
	VerbLongPress = "long_press"
	VerbType      = "type"
	VerbScroll    = "scroll"
	VerbDrag      = "drag"
	VerbPressHome = "press_home"
	VerbPressBack = "press_back"
	VerbFinished  = "finished"
)

// Point is a coordinate in the oracle's reference frame
type Point struct {
	X, Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Direction of a scroll gesture
type Direction string

const (
	DirUp    Direction = "up"
	DirDown  Direction = "down"
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// Command is one parsed action. The concrete types below are the closed set
// of variants; switch on them with a type switch.
type Command interface {
	Verb() string
	command()
}

// Click taps a point
type Click struct{ Point Point }

// LongPress holds a point
type LongPress struct{ Point Point }

// Type enters literal text; a trailing newline submits it
type Type struct{ Content string }

// Scroll swipes from Point toward Direction
type Scroll struct {
	Point     Point
	Direction Direction
}

// Drag swipes from Start to End
type Drag struct{ Start, End Point }

// PressHome sends the home key
type PressHome struct{}

// PressBack sends the back key
type PressBack struct{}

// Finished ends the run successfully; it has no device action
type Finished struct{ Content string }

func (Click) Verb() string     { return VerbClick }
func (LongPress) Verb() string { return VerbLongPress }
func (Type) Verb() string      { return VerbType }
func (Scroll) Verb() string    { return VerbScroll }
func (Drag) Verb() string      { return VerbDrag }
func (PressHome) Verb() string { return VerbPressHome }
func (PressBack) Verb() string { return VerbPressBack }
func (Finished) Verb() string  { return VerbFinished }

func (Click) command()     {}
func (LongPress) command() {}
func (Type) command()      {}
func (Scroll) command()    {}
func (Drag) command()      {}
func (PressHome) command() {}
func (PressBack) command() {}
func (Finished) command()  {}

// Scale maps oracle coordinates to physical pixels per axis
type Scale struct {
	X, Y float64
}

// Uniform returns a scale applying f to both axes
func Uniform(f float64) Scale {
	return Scale{X: f, Y: f}
}

// DeriveScale returns physical/reference per axis. A zero reference
// dimension yields a scale of 1 on that axis.
func DeriveScale(physW, physH, refW, refH int) Scale {
	s := Scale{X: 1, Y: 1}
	if refW > 0 && physW > 0 {
		s.X = float64(physW) / float64(refW)
	}
	if refH > 0 && physH > 0 {
		s.Y = float64(physH) / float64(refH)
	}
	return s
}

// Apply scales p and rounds to the nearest pixel
func (s Scale) Apply(p Point) (int, int) {
	return int(math.Round(p.X * s.X)), int(math.Round(p.Y * s.Y))
}
