package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var timeWindowPattern = regexp.MustCompile(`^(\d+)([mh])$`)

// ParseTimeWindow parses a monitor time window of the form "5m" or "1h".
// Any other form is a configuration error.
func ParseTimeWindow(window string) (time.Duration, error) {
	match := timeWindowPattern.FindStringSubmatch(window)
	if match == nil {
		return 0, fmt.Errorf("invalid time window %q: expected <digits>m or <digits>h", window)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid time window %q: magnitude must be a positive integer", window)
	}
	switch match[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid time window %q: unknown unit", window)
	}
}
