package agent

import (
	"context"
	"strings"
)

// Keys is the state of the override keys for one decision.
type Keys struct {
	Up, Down, Right, Left bool
	Space                 bool
	A, S                  bool
}

// ParseKeys reads a key list such as "up,space,a". Unknown names are ignored.
func ParseKeys(s string) Keys {
	var k Keys
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == ',' || r == ' ' || r == '+' }) {
		switch f {
		case "up":
			k.Up = true
		case "down":
			k.Down = true
		case "right":
			k.Right = true
		case "left":
			k.Left = true
		case "space":
			k.Space = true
		case "a":
			k.A = true
		case "s":
			k.S = true
		}
	}
	return k
}

// Heuristic maps key states onto the action slots. Down beats Up and Left
// beats Right when both are held.
func Heuristic(k Keys) ActionVector {
	var a ActionVector
	if k.Up {
		a[SlotMove] = 1
	}
	if k.Down {
		a[SlotMove] = 2
	}
	if k.Right {
		a[SlotRotate] = 1
	}
	if k.Left {
		a[SlotRotate] = 2
	}
	if k.Space {
		a[SlotLaser] = 1
	}
	if k.A {
		a[SlotGoToTarget] = 1
	}
	if k.S {
		a[SlotGoToBase] = 1
	}
	return a
}

// HeuristicSource polls key states on every decision.
type HeuristicSource struct {
	Poll func() Keys
}

func (h HeuristicSource) Decide(ctx context.Context, s Step) (ActionVector, error) {
	if h.Poll == nil {
		return ActionVector{}, nil
	}
	return Heuristic(h.Poll()), nil
}
