package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func riskyOperation() {
//	    defer observability.RecoverPanic(logger, "risky operation")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised - the function returns normally.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// PanicError is returned by SafeCall when the called function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// SafeCall runs fn and converts a panic into a *PanicError. The panic is
// logged with its stack trace.
//
// Plugin hooks are always invoked through SafeCall so a misbehaving plugin
// cannot take the host down:
//
//	err := observability.SafeCall(log.WithField("hook", "load_plugin"), "load_plugin", func() error {
//	    return p.LoadPlugin(ctx)
//	})
func SafeCall(logger logrus.FieldLogger, context string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithField("panic", r).
				WithField("stack", string(stack)).
				WithField("context", context).
				Error("PANIC recovered")
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return fn()
}
