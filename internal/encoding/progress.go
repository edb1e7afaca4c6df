package encoding

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	positionPattern = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// ParseDuration extracts the input duration from an ffmpeg banner line.
func ParseDuration(line string) (time.Duration, bool) {
	return parseClock(durationPattern, line)
}

// ParsePosition extracts the current encode position from a stats line.
func ParsePosition(line string) (time.Duration, bool) {
	return parseClock(positionPattern, line)
}

func parseClock(pattern *regexp.Regexp, line string) (time.Duration, bool) {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

// Percent returns round(100*position/duration) clamped to [0,100].
func Percent(position, duration time.Duration) int {
	if duration <= 0 || position <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(position) / float64(duration)))
	return max(0, min(100, pct))
}

// ProgressTracker turns ffmpeg stderr lines into percentages. The duration is
// taken from the first Duration line; positions seen before it are ignored.
type ProgressTracker struct {
	duration time.Duration
	percent  int
}

// Feed consumes one line and reports the new percentage when it changed.
func (p *ProgressTracker) Feed(line string) (int, bool) {
	if p.duration <= 0 {
		if d, ok := ParseDuration(line); ok && d > 0 {
			p.duration = d
		}
		return p.percent, false
	}
	pos, ok := ParsePosition(line)
	if !ok {
		return p.percent, false
	}
	next := Percent(pos, p.duration)
	if next == p.percent {
		return p.percent, false
	}
	p.percent = next
	return next, true
}

// Duration returns the parsed media duration, or 0 when unknown.
func (p *ProgressTracker) Duration() time.Duration {
	return p.duration
}
