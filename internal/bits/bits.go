// Package bits provides helpers for picking single bits and masked
// sub-fields out of packed header words.
package bits

// Get reports whether bit n of value is set.
func Get(value uint32, n uint) bool {
	return value&(1<<n) != 0
}

// Get64 reports whether bit n of value is set.
func Get64(value uint64, n uint) bool {
	return value&(1<<n) != 0
}

// Field extracts width bits of value starting at bit shift.
func Field(value uint32, shift, width uint) uint32 {
	return (value >> shift) & ((1 << width) - 1)
}

// Field64 extracts width bits of value starting at bit shift.
func Field64(value uint64, shift, width uint) uint64 {
	return (value >> shift) & ((1 << width) - 1)
}
