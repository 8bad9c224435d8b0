package target

import (
	"errors"
	"fmt"
)

// ErrInvalidDimensions is returned when a source or target size has a zero
// (or negative) dimension.
var ErrInvalidDimensions = errors.New("invalid dimensions")

// Point is an integer position in either frame or actuator space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is a width and height.
type Size struct {
	W int `json:"w" yaml:"width"`
	H int `json:"h" yaml:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.W, s.H)
}

// Map scales p from src space into dst space with integer truncation.
// When src equals dst, Map is the identity.
func Map(p Point, src, dst Size) (Point, error) {
	if !src.Valid() || !dst.Valid() {
		return Point{}, fmt.Errorf("map %v to %v: %w", src, dst, ErrInvalidDimensions)
	}
	return Point{
		X: p.X * dst.W / src.W,
		Y: p.Y * dst.H / src.H,
	}, nil
}

// Mapper maps frame points into a fixed actuator space.
type Mapper struct {
	dst Size
}

// NewMapper validates the actuator space up front.
func NewMapper(actuator Size) (*Mapper, error) {
	if !actuator.Valid() {
		return nil, fmt.Errorf("actuator size %v: %w", actuator, ErrInvalidDimensions)
	}
	return &Mapper{dst: actuator}, nil
}

// Map scales p from a frame of size frame into actuator space.
func (m *Mapper) Map(p Point, frame Size) (Point, error) {
	return Map(p, frame, m.dst)
}
