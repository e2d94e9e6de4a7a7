package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Byte size constants, binary units.
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * BytesPerKB
	BytesPerGB int64 = 1024 * BytesPerMB
	BytesPerTB int64 = 1024 * BytesPerGB
)

var byteUnits = []struct {
	size int64
	name string
}{
	{BytesPerTB, "TB"},
	{BytesPerGB, "GB"},
	{BytesPerMB, "MB"},
	{BytesPerKB, "KB"},
}

// FormatBytes converts a byte count to a human-readable string, e.g.
// FormatBytes(1536) returns "1.50 KB". Negative values format as "0 B".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	for _, u := range byteUnits {
		if bytes >= u.size {
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}

// FormatMegabytes formats a byte count as whole megabytes ("412 MB").
func FormatMegabytes(bytes int64) string {
	return fmt.Sprintf("%d MB", max(bytes, 0)/BytesPerMB)
}

// ParseBytes converts a size string to bytes. Accepts "100B", "10KB", "1.5 MB",
// "2G" and bare numbers, case-insensitive.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	numEnd := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	if numEnd < 0 {
		numEnd = len(s)
	}
	if numEnd == 0 {
		return 0, fmt.Errorf("invalid size %q: no number found", s)
	}

	value, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}

	unit := strings.ToUpper(strings.TrimSpace(s[numEnd:]))
	multiplier := int64(1)
	switch unit {
	case "", "B":
	case "KB", "K":
		multiplier = BytesPerKB
	case "MB", "M":
		multiplier = BytesPerMB
	case "GB", "G":
		multiplier = BytesPerGB
	case "TB", "T":
		multiplier = BytesPerTB
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}

	return int64(value * float64(multiplier)), nil
}
