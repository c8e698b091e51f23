package domain

// TickSize returns the KRX minimum price increment for the bracket
// containing price.
func TickSize(price float64) int64 {
	switch {
	case price < 1000:
		return 1
	case price < 5000:
		return 5
	case price < 10000:
		return 10
	case price < 50000:
		return 50
	case price < 500000:
		return 100
	case price < 1000000:
		return 500
	default:
		return 1000
	}
}

// AlignToTick maps price onto the legal price grid. Buys round down (toward a
// cheaper price), sells round up (toward a more expensive one), so an aligned
// order never crosses further than the caller intended.
func AlignToTick(price float64, side OrderSide) int64 {
	tick := TickSize(price)
	p := int64(price)

	var aligned int64
	if side == Buy {
		aligned = (p / tick) * tick
	} else {
		aligned = ((p + tick - 1) / tick) * tick
	}
	if aligned <= 0 {
		aligned = tick
	}
	return aligned
}
