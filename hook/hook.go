package hook

import (
	"fmt"
	"runtime/debug"
)

// Interface is a try/catch/finally scope.
type Interface interface {
	Try() error
	// Catch receives the error from Try, or a *PanicError if Try panicked,
	// and returns the error Call reports.
	Catch(err error) error
	// Finally runs on every path out of Call.
	Finally()
}

// PanicError carries a value recovered from Try.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Call runs hook.Try, hands failures to hook.Catch and always runs hook.Finally,
// also when Try or Catch panics.
func Call(hook Interface) (err error) {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}

	defer hook.Finally()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	if tryErr := try(hook); tryErr != nil {
		return hook.Catch(tryErr)
	}
	return nil
}

func try(hook Interface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return hook.Try()
}

// Funcs adapts plain functions to Interface. Nil fields are no-ops; a nil
// CatchFunc returns the error unchanged.
type Funcs struct {
	TryFunc     func() error
	CatchFunc   func(err error) error
	FinallyFunc func()
}

func (f Funcs) Try() error {
	if f.TryFunc == nil {
		return nil
	}
	return f.TryFunc()
}

func (f Funcs) Catch(err error) error {
	if f.CatchFunc == nil {
		return err
	}
	return f.CatchFunc(err)
}

func (f Funcs) Finally() {
	if f.FinallyFunc != nil {
		f.FinallyFunc()
	}
}
