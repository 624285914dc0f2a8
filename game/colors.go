// game/colors.go
package game

import (
	"math/rand"
)

// Color 球的颜色，rainbow 和 skull 是特殊颜色
type Color string

const (
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorOrange  Color = "orange"
	ColorRainbow Color = "rainbow"
	ColorSkull   Color = "skull"
)

// StandardColors 参与普通消除的三种基础颜色
var StandardColors = []Color{ColorBlue, ColorGreen, ColorOrange}

// IsStandard reports whether c is one of the three base colors.
func (c Color) IsStandard() bool {
	return c == ColorBlue || c == ColorGreen || c == ColorOrange
}

// IsValid reports whether c is a known color.
func (c Color) IsValid() bool {
	return c.IsStandard() || c == ColorRainbow || c == ColorSkull
}

// Drop-color distribution for the wildcard deployment.
const (
	rainbowWeight = 0.10
	skullWeight   = 0.20
)

// NextColor 抽取下一个球的颜色
//
// Wildcard mode: 10% rainbow, 20% skull, the remaining 70% split evenly
// over the three standard colors. Without wildcards the pick is uniform
// over the standard colors only.
func NextColor(rng *rand.Rand, wildcards bool) Color {
	if !wildcards {
		return StandardColors[rng.Intn(len(StandardColors))]
	}

	roll := rng.Float64()
	switch {
	case roll < rainbowWeight:
		return ColorRainbow
	case roll < rainbowWeight+skullWeight:
		return ColorSkull
	default:
		return StandardColors[rng.Intn(len(StandardColors))]
	}
}
