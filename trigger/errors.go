package trigger

import "github.com/pkg/errors"

var (
	ErrNotRunning = errors.New("trigger engine is not running")
	ErrNilWindow  = errors.New("window is absent")
	ErrNoReceiver = errors.New("window has no fire receiver")
)
