// Package bytesize parses the size strings accepted by --output-limit and
// formats byte counts for humans.
package bytesize

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Suffix multipliers. Single letters and the IEC forms are binary; the
// two-letter SI forms are decimal.
var suffixes = []struct {
	suffix     string
	multiplier uint64
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"K", 1 << 10},
	{"M", 1 << 20},
	{"G", 1 << 30},
}

// Parse converts s to a byte count. A bare number is bytes.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	number, multiplier := s, uint64(1)
	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			number = strings.TrimSuffix(s, sfx.suffix)
			multiplier = sfx.multiplier
			break
		}
	}

	n, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", number)
	}
	hi, lo := bits.Mul64(n, multiplier)
	if hi != 0 {
		return 0, fmt.Errorf("size %s overflows", s)
	}
	return lo, nil
}

// Format renders n with binary units, e.g. "1.0 KiB".
func Format(n uint64) string {
	return humanize.IBytes(n)
}
