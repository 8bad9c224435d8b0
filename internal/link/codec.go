// Package link owns the serial connection to the pointer actuator: port
// discovery, the greeting handshake, command encoding and echo verification.
package link

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MaxCoordinate is the largest value a wire field can carry (five digits).
const MaxCoordinate = 99999

// commandLen is the exact length of an encoded command line.
const commandLen = len("(00000,00000),(00000,00000)\n")

var (
	// ErrCoordinateRange is returned when a coordinate does not fit in five digits.
	ErrCoordinateRange = errors.New("coordinate out of range 0-99999")
	// ErrMalformedCommand is returned when a wire line cannot be decoded.
	ErrMalformedCommand = errors.New("malformed command line")
)

var commandPattern = regexp.MustCompile(`^\((\d{5}),(\d{5})\),\((\d{5}),(\d{5})\)\n$`)

// Position is a point in actuator space.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

func (p Position) valid() bool {
	return p.X >= 0 && p.X <= MaxCoordinate && p.Y >= 0 && p.Y <= MaxCoordinate
}

// Command moves the actuator from Current to Target.
// Seq is the cycle that produced it and is never put on the wire.
type Command struct {
	Seq     uint64   `json:"seq"`
	Current Position `json:"current"`
	Target  Position `json:"target"`
}

// Encode renders c as "(CCCCC,CCCCC),(TTTTT,TTTTT)\n".
func Encode(c Command) ([]byte, error) {
	if !c.Current.valid() || !c.Target.valid() {
		return nil, fmt.Errorf("encode %s -> %s: %w", c.Current, c.Target, ErrCoordinateRange)
	}

	line := fmt.Sprintf("(%05d,%05d),(%05d,%05d)\n",
		c.Current.X, c.Current.Y, c.Target.X, c.Target.Y)
	return []byte(line), nil
}

// Decode parses one wire line back into a Command. Seq is left zero.
func Decode(line []byte) (Command, error) {
	if len(line) != commandLen {
		return Command{}, fmt.Errorf("%w: length %d", ErrMalformedCommand, len(line))
	}

	m := commandPattern.FindSubmatch(line)
	if m == nil {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
	}

	var v [4]int
	for i := range v {
		n, err := strconv.Atoi(string(m[i+1]))
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		v[i] = n
	}

	return Command{
		Current: Position{X: v[0], Y: v[1]},
		Target:  Position{X: v[2], Y: v[3]},
	}, nil
}
