package window

import (
	"time"

	"github.com/pkg/errors"
)

// Assigner assigns events to tumbling event time instances of one window.
type Assigner struct {
	windowName   string
	size         int64
	globalOffset int64
}

func getWindowStartWithOffset(timestamp int64, offset int64, windowSize int64) int64 {
	remainder := (timestamp - offset) % windowSize
	// handle both positive and negative cases
	if remainder < 0 {
		return timestamp - (remainder + windowSize)
	} else {
		return timestamp - remainder
	}
}

func (a *Assigner) AssignInstances(splitId string, eventTimestamp int64) []*Instance {
	startTimestamp := getWindowStartWithOffset(eventTimestamp, a.globalOffset%a.size, a.size)
	endTimestamp := startTimestamp + a.size
	return []*Instance{NewInstance(a.windowName, splitId, startTimestamp, endTimestamp, endTimestamp)}
}

func NewTumblingAssigner(windowName string, windowSize time.Duration, globalOffset time.Duration) (*Assigner, error) {
	if windowSize < time.Millisecond {
		return nil, errors.Errorf("windowSize should be greater than milliseconds")
	}
	if globalOffset < time.Millisecond && globalOffset != 0 {
		return nil, errors.Errorf("globalOffset should be greater than milliseconds or equal to 0")
	}
	return &Assigner{
		windowName:   windowName,
		size:         windowSize.Milliseconds(),
		globalOffset: globalOffset.Milliseconds(),
	}, nil
}
