package printer

import "fmt"

// byteUnits are the display units for archive sizes, largest first.
var byteUnits = []struct {
	name string
	size int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// FormatBytes renders a byte count the way the doctor reports archive sizes:
// largest unit that fits, one decimal. Negative counts render as zero.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	for _, unit := range byteUnits {
		if bytes >= unit.size {
			return fmt.Sprintf("%.1f %s", float64(bytes)/float64(unit.size), unit.name)
		}
	}

	return fmt.Sprintf("%d B", bytes)
}
