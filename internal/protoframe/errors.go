package protoframe

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout          = errors.New("protoframe: timeout")
	ErrConnectionFailed = errors.New("protoframe: connection failed")
	ErrMalformedRecord  = errors.New("protoframe: malformed record")
	ErrHandlerFailure   = errors.New("protoframe: handler failure")
	ErrInvalidNamespace = errors.New("protoframe: invalid namespace")
	ErrDestroyed        = errors.New("protoframe: connector destroyed")
	ErrMissingBody      = errors.New("protoframe: body is required")
)

// TimeoutError reports an ask (or ping) that got no matching response in time.
type TimeoutError struct {
	Namespace string
	Type      string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("protoframe: no response to %s#ask#%s within %s (elapsed %s)",
		e.Namespace, e.Type, e.Timeout, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConnectionFailedError reports a Connect that used up its retries.
type ConnectionFailedError struct {
	Namespace string
	Retries   int
	Elapsed   time.Duration
	Last      error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("protoframe: could not reach a %q peer after %d attempts in %s: %v",
		e.Namespace, e.Retries, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *ConnectionFailedError) Is(target error) bool { return target == ErrConnectionFailed }

func (e *ConnectionFailedError) Unwrap() error { return e.Last }

// HandlerError wraps the failure of an ask handler. No response is sent for it.
type HandlerError struct {
	Namespace string
	Type      string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("protoframe: handler %s#%s failed: %v", e.Namespace, e.Type, e.Err)
}

func (e *HandlerError) Is(target error) bool { return target == ErrHandlerFailure }

func (e *HandlerError) Unwrap() error { return e.Err }
