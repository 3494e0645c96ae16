package adbdevice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestDeviceErr(t *testing.T) {
	assert.NoError(t, deviceErr(nil))

	wrapped := fmt.Errorf("read /sdcard/x: %w", os.ErrDeadlineExceeded)
	assert.ErrorIs(t, deviceErr(wrapped), ErrTimeout)
	assert.ErrorIs(t, deviceErr(wrapped), os.ErrDeadlineExceeded, "the original chain must be preserved")

	assert.ErrorIs(t, deviceErr(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, deviceErr(&fakeNetError{timeout: true}), ErrTimeout)
	assert.NotErrorIs(t, deviceErr(&fakeNetError{timeout: false}), ErrTimeout)

	plain := errors.New("something else")
	assert.Same(t, plain, deviceErr(plain))
}

func TestStagingError(t *testing.T) {
	cause := errors.New("No space left on device")
	err := &StagingError{Phase: StagingStageWrite, Path: "/data/local/tmp/tmp_x", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stage-write")
	assert.Contains(t, err.Error(), "/data/local/tmp/tmp_x")
}
