package forecast

import "math"

const (
	lcgMultiplier = 0x5DEECE66D
	lcgAddend     = 0xB
	lcgMask       = (1 << 48) - 1

	canonicalNaN = 0x7ff8000000000000
)

// lcg is the 48-bit linear congruential generator used to derive jitter.
// Output matches the widely deployed generator with the same constants so
// readings stay identical to those produced by the mobile app.
type lcg struct {
	seed int64
}

func newLCG(seed int64) *lcg {
	return &lcg{seed: (seed ^ lcgMultiplier) & lcgMask}
}

func (g *lcg) next(bits uint) int32 {
	g.seed = (g.seed*lcgMultiplier + lcgAddend) & lcgMask
	return int32(uint64(g.seed) >> (48 - bits))
}

// nextInt returns a value in [0, bound). bound must be positive.
func (g *lcg) nextInt(bound int32) int32 {
	if bound&(-bound) == bound {
		return int32((int64(bound) * int64(g.next(31))) >> 31)
	}
	for {
		bits := g.next(31)
		val := bits % bound
		// Reject values from the incomplete final range; the sum overflows int32 there.
		if bits-val+(bound-1) >= 0 {
			return val
		}
	}
}

// doubleHash folds the IEEE-754 bits of v into 32 bits (high word XOR low word).
// All NaNs hash as the canonical quiet NaN.
func doubleHash(v float64) int32 {
	bits := math.Float64bits(v)
	if math.IsNaN(v) {
		bits = canonicalNaN
	}
	return int32(uint32(bits ^ (bits >> 32)))
}

func floorMod(x, m int32) int32 {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
