package geometry

import (
	"fmt"
	"math"
)

// Condition adjusts a crop rectangle after the weights are applied.
type Condition string

const (
	CenterX Condition = "center_x"
	CenterY Condition = "center_y"
	SquareW Condition = "square_w"
	SquareH Condition = "square_h"
)

// WildcardToken selects the whole source region.
const WildcardToken = "*"

// ParseCondition maps a config token to its Condition.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(s); c {
	case CenterX, CenterY, SquareW, SquareH:
		return c, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Weights locate a crop inside a bounding box. When All is set the box is
// used as-is and the quadruple is ignored.
type Weights struct {
	X, Y, W, H float64
	All        bool
}

var (
	Identity = Weights{X: 0, Y: 0, W: 1, H: 1}
	Wildcard = Weights{All: true}
)

// Validate checks every scalar lies in [0,1]. Wildcard weights are always valid.
func (w Weights) Validate() error {
	if w.All {
		return nil
	}
	for i, v := range [4]float64{w.X, w.Y, w.W, w.H} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("weight %d is %v, want a value in [0,1]", i, v)
		}
	}
	return nil
}

func (w Weights) String() string {
	if w.All {
		return WildcardToken
	}
	return fmt.Sprintf("(%g,%g,%g,%g)", w.X, w.Y, w.W, w.H)
}
