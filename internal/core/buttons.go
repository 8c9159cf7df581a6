package core

import (
	"fmt"
	"strings"
)

// Buttons is a pad bitmask. Bit order follows the classic handheld layout.
type Buttons uint8

const (
	// ButtonA is the A button.
	ButtonA Buttons = 1 << iota
	// ButtonB is the B button.
	ButtonB
	// ButtonSelect is the Select button.
	ButtonSelect
	// ButtonStart is the Start button.
	ButtonStart
	// ButtonRight is the Right direction.
	ButtonRight
	// ButtonLeft is the Left direction.
	ButtonLeft
	// ButtonUp is the Up direction.
	ButtonUp
	// ButtonDown is the Down direction.
	ButtonDown
)

var buttonNames = []struct {
	mask Buttons
	name string
}{
	{ButtonA, "A"},
	{ButtonB, "B"},
	{ButtonSelect, "SELECT"},
	{ButtonStart, "START"},
	{ButtonRight, "RIGHT"},
	{ButtonLeft, "LEFT"},
	{ButtonUp, "UP"},
	{ButtonDown, "DOWN"},
}

// ParseButton maps a transport-supplied button name to its mask,
// case-insensitively.
func ParseButton(name string) (Buttons, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, b := range buttonNames {
		if b.name == upper {
			return b.mask, nil
		}
	}
	return 0, fmt.Errorf("unknown button %q (expected one of %s)", name, ButtonList())
}

// ButtonList returns the accepted button names, space separated.
func ButtonList() string {
	names := make([]string, len(buttonNames))
	for i, b := range buttonNames {
		names[i] = b.name
	}
	return strings.Join(names, " ")
}

func (b Buttons) String() string {
	if b == 0 {
		return "none"
	}
	var held []string
	for _, n := range buttonNames {
		if b&n.mask != 0 {
			held = append(held, n.name)
		}
	}
	return strings.Join(held, "+")
}
