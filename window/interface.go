package window

import (
	_c "context"
)

// Window is the windowing operator the trigger engine fires instances for.
type Window interface {
	Name() string
	// RealFireTime is the effective close time of instance, allowed lateness included.
	RealFireTime(instance *Instance) int64
	// MaxGapSecond is the staleness bound of the stall escape, false disables it.
	MaxGapSecond() (int64, bool)
	// FireWindowInstance emits the result of instance and returns the emitted record count.
	FireWindowInstance(ctx _c.Context, instance *Instance, offsets map[string]string) (int, error)
	// InstanceIndex receives every newly registered instance.
	InstanceIndex() InstanceIndex
	// FireReceiver receives the messages forwarded by the engine dispatch path.
	FireReceiver() Receiver
}

type InstanceIndex interface {
	Put(id string, instance *Instance)
}

type Receiver interface {
	Receive(ctx _c.Context, message any) error
}

// Registrar is the registration side of the trigger engine,
// windows call it back for every event they accept.
type Registrar interface {
	RegisterFireInstanceIfNotExist(instance *Instance)
	UpdateLastUpdateTime(instance *Instance, eventTime int64)
	UpdateOffset(instanceId string, split string, offset string)
}

// Event is an inbound record on a split.
type Event struct {
	Key       string
	Value     []byte
	Timestamp int64
	SplitId   string
	// Offset is the position of the record in its split, empty if unknown
	Offset string
}
