package admission

import (
	"fmt"
	"strings"
)

// OverflowStrategy decides what happens when the admission buffer is full.
type OverflowStrategy string

const (
	// StrategyError rejects the new request and faults the admission stream.
	StrategyError OverflowStrategy = "ERROR"
	// StrategyDropOldest evicts the oldest buffered request to make room.
	StrategyDropOldest OverflowStrategy = "DROP_OLDEST"
	// StrategyDropLatest rejects the new request and leaves the buffer unchanged.
	StrategyDropLatest OverflowStrategy = "DROP_LATEST"
)

// ParseOverflowStrategy parses a strategy name case-insensitively.
func ParseOverflowStrategy(s string) (OverflowStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(StrategyError):
		return StrategyError, nil
	case string(StrategyDropOldest):
		return StrategyDropOldest, nil
	case string(StrategyDropLatest):
		return StrategyDropLatest, nil
	default:
		return "", fmt.Errorf("unknown overflow strategy %q (must be ERROR, DROP_OLDEST or DROP_LATEST)", s)
	}
}

// UnmarshalText lets config decoders accept any casing.
func (s *OverflowStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseOverflowStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s OverflowStrategy) String() string {
	return string(s)
}
