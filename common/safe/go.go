package safe

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

// PanicError is returned by Run when fn panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

//be safe, don't panic

func Run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := &PanicError{Value: r, Stack: debug.Stack()}
			if cause, ok := r.(error); ok {
				err = errors.WithMessage(cause, panicErr.Error())
			} else {
				err = panicErr
			}
		}
	}()
	return fn()
}
