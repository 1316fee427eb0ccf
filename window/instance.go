package window

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"
)

// Instance is one concrete occurrence of a window definition on one split,
// e.g. the [10:00, 10:05) bucket of window "clicks" read from queue 3.
// Times are unix milliseconds.
type Instance struct {
	id         string
	windowName string
	splitId    string
	startTime  int64
	endTime    int64
	fireTime   int64

	// watermark snapshot carried to the emission, set at most once
	lastMaxUpdateTime *atomic.Pointer[int64]
}

func NewInstance(windowName string, splitId string, startTime, endTime, fireTime int64) *Instance {
	return &Instance{
		id:                CreateInstanceId(windowName, splitId, startTime, endTime),
		windowName:        windowName,
		splitId:           splitId,
		startTime:         startTime,
		endTime:           endTime,
		fireTime:          fireTime,
		lastMaxUpdateTime: atomic.NewPointer[int64](nil),
	}
}

func CreateInstanceId(windowName string, splitId string, startTime, endTime int64) string {
	return fmt.Sprintf("%s;%s;%d;%d", windowName, splitId, startTime, endTime)
}

func (i *Instance) Id() string         { return i.id }
func (i *Instance) WindowName() string { return i.windowName }
func (i *Instance) SplitId() string    { return i.splitId }
func (i *Instance) StartTime() int64   { return i.startTime }
func (i *Instance) EndTime() int64     { return i.endTime }
func (i *Instance) FireTime() int64    { return i.fireTime }

func (i *Instance) LastMaxUpdateTime() (int64, bool) {
	if v := i.lastMaxUpdateTime.Load(); v != nil {
		return *v, true
	}
	return 0, false
}

// SetLastMaxUpdateTime freezes the watermark reported with the result,
// it returns false if a snapshot was already taken.
func (i *Instance) SetLastMaxUpdateTime(maxEventTime int64) bool {
	return i.lastMaxUpdateTime.CompareAndSwap(nil, &maxEventTime)
}

func (i *Instance) String() string {
	return i.id
}

// Less orders instances by fire time ascending, equal fire times prefer the later start.
func Less(a, b *Instance) bool {
	if a.fireTime != b.fireTime {
		return a.fireTime < b.fireTime
	}
	return a.startTime > b.startTime
}

// SortByFireTime sorts in place with Less.
func SortByFireTime(instances []*Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		return Less(instances[i], instances[j])
	})
}
