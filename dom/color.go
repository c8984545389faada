package dom

import (
	"math"
	"strconv"
	"strings"

	"github.com/mazznoer/csscolorparser"
)

// Color is an sRGB colour with alpha in [0, 1].
type Color struct {
	R, G, B uint8
	A       float64
}

// String renders c the way getComputedStyle does: rgb() when opaque,
// rgba() otherwise.
func (c Color) String() string {
	if c.A >= 1 {
		return "rgb(" + strconv.Itoa(int(c.R)) + ", " + strconv.Itoa(int(c.G)) + ", " + strconv.Itoa(int(c.B)) + ")"
	}
	return "rgba(" + strconv.Itoa(int(c.R)) + ", " + strconv.Itoa(int(c.G)) + ", " + strconv.Itoa(int(c.B)) + ", " +
		strconv.FormatFloat(c.A, 'f', -1, 64) + ")"
}

// Transparent reports a fully transparent colour.
func (c Color) Transparent() bool { return c.A <= 0 }

// ParseColor accepts any CSS colour value: named colours, hex with a leading
// '#', and the rgb, hsl and hwb functions. Alpha is quantised to 8 bits and
// serialised with the fewest decimals that survive the round trip, so
// #00000080 reports 0.5.
func ParseColor(s string) (Color, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '#' && isHex(s)) {
		// Bare hex digits are a keyword such as "bad" or "fade", not a colour.
		return Color{}, false
	}
	c, err := csscolorparser.Parse(s)
	if err != nil {
		return Color{}, false
	}
	r, g, b, a := c.RGBA255()
	return Color{R: r, G: g, B: b, A: alpha8(a)}, true
}

func alpha8(a uint8) float64 {
	if a == 255 {
		return 1
	}
	two := math.Round(float64(a)/255*100) / 100
	if uint8(math.Round(two*255)) == a {
		return two
	}
	return math.Round(float64(a)/255*1000) / 1000
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
