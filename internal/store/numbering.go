package store

// MinVIPNumber is the floor of the VIP reception number range.
const MinVIPNumber = 1001

// NextOrdinaryNumber derives the next ordinary reception number from the
// running allocation count. The first six numbers are reserved, so the
// base never drops below 6, and numbers divisible by 6 are skipped.
func NextOrdinaryNumber(rawCount int64) int64 {
	base := rawCount
	if base < 6 {
		base = 6
	}
	next := base + 1
	for next%6 == 0 {
		next++
	}
	return next
}

// NextVIPNumber returns the smallest number at or above MinVIPNumber that
// is not already used and not divisible by 6. Gaps left by earlier
// allocations are filled.
func NextVIPNumber(used map[int64]bool) int64 {
	candidate := int64(MinVIPNumber)
	for used[candidate] || candidate%6 == 0 {
		candidate++
	}
	return candidate
}
