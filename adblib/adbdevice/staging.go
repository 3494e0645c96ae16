package adbdevice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tetherkit/tetherkit/adblib/adbexec"
	"github.com/tetherkit/tetherkit/adblib/adbsync"
)

// stagingName returns a fresh unique filename under the staging directory.
func stagingName() string {
	return stagingDir + "/tmp_" + uuid.NewString()
}

// runAsCopy copies src to dst as the run-as package. The legacy shell
// protocol carries no exit status, so any output at all (cp and run-as are
// silent on success) is treated as the copy failing.
func (d *Device) runAsCopy(ctx context.Context, src, dst string) error {
	out, err := d.shellCommandAs(ctx, "cp -aR "+adbexec.Quote(src)+" "+adbexec.Quote(dst), true)
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" {
		return errors.New(out)
	}
	return nil
}

// cleanupStaged removes a staging file. It runs even when the surrounding
// operation's context is cancelled, since leaving debris in the staging
// directory is worse than a slightly delayed return. Failures are logged;
// callers fold them into a [StagingError] only when the transfer itself
// succeeded.
func (d *Device) cleanupStaged(ctx context.Context, staged string) error {
	ctx = context.WithoutCancel(ctx)
	out, err := d.ShellCommand(ctx, "rm -f "+adbexec.Quote(staged))
	if err == nil {
		if out = strings.TrimSpace(out); out != "" {
			err = errors.New(out)
		}
	}
	if err != nil {
		slog.Warn("staging cleanup failed", "serial", d.Serial, "path", staged, "error", err)
		return &StagingError{Phase: StagingCleanup, Path: staged, Err: err}
	}
	return nil
}

// pushStaged writes r to a temp file under /data/local/tmp, then copies it
// into place with run-as. The temp file is removed regardless of the copy's
// outcome.
func (d *Device) pushStaged(ctx context.Context, r io.Reader, dest string, mode uint32, mtime time.Time, progress adbsync.ProgressFunc) error {
	staged := stagingName()
	if err := d.syncClient().Send(ctx, staged, mode, mtime, r, progress); err != nil {
		d.cleanupStaged(ctx, staged)
		return &StagingError{Phase: StagingStageWrite, Path: staged, Err: deviceErr(err)}
	}
	if err := d.runAsCopy(ctx, staged, dest); err != nil {
		d.cleanupStaged(ctx, staged)
		return &StagingError{Phase: StagingRunAsCopy, Path: dest, Err: err}
	}
	return d.cleanupStaged(ctx, staged)
}

// pullStaged copies src out of the app-private directory into a temp file
// with run-as, then reads the temp file back over sync. The temp file is
// removed regardless of the read's outcome.
func (d *Device) pullStaged(ctx context.Context, src string, w io.Writer, progress adbsync.ProgressFunc) error {
	staged := stagingName()
	if err := d.runAsCopy(ctx, src, staged); err != nil {
		d.cleanupStaged(ctx, staged)
		return &StagingError{Phase: StagingRunAsCopy, Path: src, Err: err}
	}
	// The copy keeps the app's permissions; open it up so the sync service
	// can read it back.
	if _, err := d.ShellCommand(ctx, "chmod 666 "+adbexec.Quote(staged)); err != nil {
		slog.Debug("chmod of staged file failed", "serial", d.Serial, "path", staged, "error", err)
	}
	if err := d.syncClient().Recv(ctx, staged, w, progress); err != nil {
		d.cleanupStaged(ctx, staged)
		return &StagingError{Phase: StagingStageWrite, Path: staged, Err: deviceErr(err)}
	}
	return d.cleanupStaged(ctx, staged)
}
