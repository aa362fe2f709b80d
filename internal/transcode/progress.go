package transcode

import (
	"math"
	"strconv"
	"strings"
)

// ffmpeg -progress keys
const (
	ProgressTimeUsKey = "out_time_us"
	ProgressTimeMsKey = "out_time_ms" // also microseconds, despite the name
	ProgressStateKey  = "progress"
	ProgressStateEnd  = "end"
)

// ParseProgressLine splits one "key=value" line of ffmpeg -progress output
func ParseProgressLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// ProgressTracker turns ffmpeg -progress lines into a percentage of the
// known input duration
type ProgressTracker struct {
	Duration float64 // seconds; zero means unknown
	last     float64
}

// Feed consumes one line and returns the new rounded percentage when the
// line advanced it
func (p *ProgressTracker) Feed(line string) (float64, bool) {
	key, value, ok := ParseProgressLine(line)
	if !ok {
		return 0, false
	}

	var percent float64
	switch key {
	case ProgressTimeUsKey, ProgressTimeMsKey:
		if p.Duration <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		percent = float64(us) / 1e6 / p.Duration * 100
	case ProgressStateKey:
		if value != ProgressStateEnd {
			return 0, false
		}
		percent = 100
	default:
		return 0, false
	}

	percent = math.Round(min(percent, 100))
	if percent <= p.last {
		return p.last, false
	}
	p.last = percent
	return percent, true
}
