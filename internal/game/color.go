package game

import "fmt"

// Color identifies one of the two players.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Inverse returns white for black and black for white.
func (c Color) Inverse() Color {
	if c == White {
		return Black
	}
	return White
}

// Short returns the first letter of the color name for compact
// serialization, or the empty string for the zero value.
func (c Color) Short() string {
	if c == "" {
		return ""
	}
	return string(c[0])
}

// ColorFromShort is the inverse of Color.Short. The empty string maps to
// the zero Color.
func ColorFromShort(short string) (Color, error) {
	switch short {
	case "":
		return "", nil
	case "w":
		return White, nil
	case "b":
		return Black, nil
	}
	return "", fmt.Errorf("%q is not a valid short color name", short)
}

// ParseColor validates a long-form color name.
func ParseColor(name string) (Color, error) {
	switch Color(name) {
	case White, Black:
		return Color(name), nil
	}
	return "", fmt.Errorf("%q is not a valid color", name)
}

// Capitalize returns the color name with the first letter upcased, for
// use in explanation strings.
func (c Color) Capitalize() string {
	if c == "" {
		return ""
	}
	return string(c[0]-'a'+'A') + string(c[1:])
}
