package domain

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// ErrUnderflow is returned when a subtraction would make a ByteSize negative
var ErrUnderflow = errors.New("byte size underflow")

// ErrOverflow is returned when a result would not fit in a ByteSize
var ErrOverflow = errors.New("byte size overflow")

// ErrDivideByZero is returned by Div with a zero divisor
var ErrDivideByZero = errors.New("byte size divided by zero")

// ErrByteSizeFormat is returned when a byte size string cannot be parsed
var ErrByteSizeFormat = errors.New("invalid byte size")

// ByteSize is an unsigned count of bytes using decimal (power of 1000) units
type ByteSize uint64

const (
	Byte     ByteSize = 1
	Kilobyte ByteSize = 1000 * Byte
	Megabyte ByteSize = 1000 * Kilobyte
	Gigabyte ByteSize = 1000 * Megabyte
	Terabyte ByteSize = 1000 * Gigabyte
	Petabyte ByteSize = 1000 * Terabyte

	MaxByteSize ByteSize = math.MaxUint64
)

var unitMultipliers = map[byte]float64{
	'B': 1,
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
	'T': 1e12,
	'P': 1e15,
}

// ParseByteSize parses a decimal value with an optional unit suffix
// (B, K, M, G, T, P). "1500B", "2K", "1.5M" and "2.00 GB" are all accepted.
func ParseByteSize(s string) (ByteSize, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return 0, fmt.Errorf("%w: empty string", ErrByteSizeFormat)
	}

	multiplier := 1.0
	upper := strings.ToUpper(value)
	// "KB", "MB" etc: drop the trailing B so the unit letter is last
	if len(upper) >= 2 && upper[len(upper)-1] == 'B' {
		if _, ok := unitMultipliers[upper[len(upper)-2]]; ok && upper[len(upper)-2] != 'B' {
			upper = upper[:len(upper)-1]
		}
	}
	if m, ok := unitMultipliers[upper[len(upper)-1]]; ok {
		multiplier = m
		upper = strings.TrimSpace(upper[:len(upper)-1])
	}

	number, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrByteSizeFormat, s)
	}
	if number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("%w: %q", ErrByteSizeFormat, s)
	}

	total := number * multiplier
	if total >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %q out of range", ErrByteSizeFormat, s)
	}
	return ByteSize(math.Round(total)), nil
}

// MustParseByteSize is like ParseByteSize but panics on error
func MustParseByteSize(s string) ByteSize {
	b, err := ParseByteSize(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Bytes returns the raw byte count
func (b ByteSize) Bytes() uint64 {
	return uint64(b)
}

// Add returns b + other, or ErrOverflow if the sum does not fit
func (b ByteSize) Add(other ByteSize) (ByteSize, error) {
	sum, carry := bits.Add64(uint64(b), uint64(other), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, b, other)
	}
	return ByteSize(sum), nil
}

// Sub returns b - other, or ErrUnderflow if other is larger than b
func (b ByteSize) Sub(other ByteSize) (ByteSize, error) {
	if other > b {
		return 0, fmt.Errorf("%w: %d - %d", ErrUnderflow, b, other)
	}
	return b - other, nil
}

// Mul returns b * factor, or ErrOverflow if the product does not fit
func (b ByteSize) Mul(factor uint64) (ByteSize, error) {
	hi, lo := bits.Mul64(uint64(b), factor)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, b, factor)
	}
	return ByteSize(lo), nil
}

// Div returns b / divisor truncated toward zero
func (b ByteSize) Div(divisor uint64) (ByteSize, error) {
	if divisor == 0 {
		return 0, ErrDivideByZero
	}
	return b / ByteSize(divisor), nil
}

// Compare returns -1, 0 or 1
func (b ByteSize) Compare(other ByteSize) int {
	switch {
	case b < other:
		return -1
	case b > other:
		return 1
	default:
		return 0
	}
}

// Less reports whether b < other
func (b ByteSize) Less(other ByteSize) bool {
	return b < other
}

// TotalGB returns the size in gigabytes
func (b ByteSize) TotalGB() float64 {
	return float64(b) / 1e9
}

// String renders the size with the largest unit the value reaches
func (b ByteSize) String() string {
	v := float64(b)
	switch {
	case b < Kilobyte:
		return fmt.Sprintf("%d B", uint64(b))
	case b < Megabyte:
		return fmt.Sprintf("%.2f KB", v/1e3)
	case b < Gigabyte:
		return fmt.Sprintf("%.2f MB", v/1e6)
	case b < Terabyte:
		return fmt.Sprintf("%.2f GB", v/1e9)
	case b < Petabyte:
		return fmt.Sprintf("%.2f TB", v/1e12)
	default:
		return fmt.Sprintf("%.2f PB", v/1e15)
	}
}

// SumTraffic adds up a list of sizes
func SumTraffic(sizes ...ByteSize) ByteSize {
	var total ByteSize
	for _, s := range sizes {
		total += s
	}
	return total
}
