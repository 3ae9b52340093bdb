// Package format renders durations and sizes for progress lines and logs.
package format

import (
	"fmt"
	"strings"
	"time"
)

// split truncates d to whole seconds and breaks it into hours, minutes
// and seconds. Negative durations count as zero.
func split(d time.Duration) (h, m, s int64) {
	total := int64(max(d, 0) / time.Second)
	return total / 3600, total / 60 % 60, total % 60
}

// Duration formats d as HH:MM:SS, or MM:SS under an hour.
func Duration(d time.Duration) string {
	h, m, s := split(d)
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Clock formats d as MM:SS with unbounded minutes: 75m3s is "75:03".
func Clock(d time.Duration) string {
	h, m, s := split(d)
	return fmt.Sprintf("%02d:%02d", h*60+m, s)
}

// DurationHuman formats d compactly, dropping zero units: "1h30m", "10m",
// "2m5s", "0s".
func DurationHuman(d time.Duration) string {
	h, m, s := split(d)
	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if s > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}

// Size formats a byte count with binary units and one decimal above a
// kibibyte: "900 B", "1.5 KiB", "12.0 MiB".
func Size(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", max(n, 0))
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 3; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
