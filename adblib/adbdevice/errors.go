package adbdevice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/tetherkit/tetherkit/adblib/adbexec"
	"github.com/tetherkit/tetherkit/adblib/adbsync"
)

// Errors which can be tested with [errors.Is]. Protocol faults and remote
// failures are surfaced as [adbproto.ErrProtocol] and [adbproto.ErrServer]
// from the wrapped packages.
var (
	ErrTimeout         = errors.New("operation timed out")
	ErrNoDevices       = errors.New("no devices attached")
	ErrMultipleDevices = errors.New("multiple devices attached and no serial given")
	ErrUnknownDevice   = errors.New("unknown device serial")
	ErrMissingPackage  = errors.New("no run-as package configured")
	ErrPackageManager  = errors.New("package manager failure")
)

// ErrInvalidPath matches remote path validation failures, which are detected
// locally before any wire activity.
var ErrInvalidPath = adbsync.ErrInvalidPath

// ErrUTF8 matches UTF-8 decode failures on shell output.
var ErrUTF8 = adbexec.ErrUTF8

// StagingPhase identifies which step of a run-as staged transfer failed.
type StagingPhase string

const (
	StagingStageWrite StagingPhase = "stage-write" // sync transfer to/from the staging path
	StagingRunAsCopy  StagingPhase = "run-as-copy" // run-as copy between staging and the app dir
	StagingCleanup    StagingPhase = "cleanup"     // removal of the staging artifact
)

// StagingError wraps a failure in a run-as staged transfer with the phase it
// occurred in. A cleanup failure is only surfaced when the transfer itself
// succeeded; otherwise the transfer error wins and the cleanup failure is
// just logged.
type StagingError struct {
	Phase StagingPhase
	Path  string // the staging path
	Err   error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("run-as staging (%s phase, %s): %v", e.Phase, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// timeoutError makes deadline and network timeouts match [ErrTimeout] while
// preserving the original error chain.
type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string {
	return ErrTimeout.Error() + ": " + e.err.Error()
}

func (e *timeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *timeoutError) Unwrap() error {
	return e.err
}

// deviceErr classifies err, distinguishing timeouts from generic I/O failure.
func deviceErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &timeoutError{err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &timeoutError{err}
	}
	return err
}
