package adbdevice

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/tetherkit/tetherkit/adblib/adbexec"
	"github.com/tetherkit/tetherkit/adblib/adbsync"
	"github.com/tetherkit/tetherkit/internal/bionic"
)

// defaultFileMode is the mode pushed files are created with when the caller
// does not care.
const defaultFileMode = 0o644

// Push writes the contents of r to dest on the device. The destination is
// resolved against the storage root; destinations inside the run-as package's
// data directory are staged through /data/local/tmp and copied into place
// with run-as.
func (d *Device) Push(ctx context.Context, r io.Reader, dest string) error {
	return d.PushWithProgress(ctx, r, dest, nil)
}

// PushWithProgress is [Device.Push] with a progress callback. The callback
// receives the cumulative byte count copied so far; it fires once per
// transfer-chunk boundary crossed plus once at completion.
func (d *Device) PushWithProgress(ctx context.Context, r io.Reader, dest string, progress adbsync.ProgressFunc) error {
	dest, err := d.ResolvePath(dest)
	if err != nil {
		return err
	}
	mtime := time.Now()
	if d.needsRunAs(dest) {
		return d.pushStaged(ctx, r, dest, defaultFileMode, mtime, progress)
	}
	return deviceErr(d.syncClient().Send(ctx, dest, defaultFileMode, mtime, r, progress))
}

// Pull reads the file at src on the device into w. Sources inside the run-as
// package's data directory are copied out with run-as first.
func (d *Device) Pull(ctx context.Context, src string, w io.Writer) error {
	return d.PullWithProgress(ctx, src, w, nil)
}

// PullWithProgress is [Device.Pull] with a progress callback.
func (d *Device) PullWithProgress(ctx context.Context, src string, w io.Writer, progress adbsync.ProgressFunc) error {
	src, err := d.ResolvePath(src)
	if err != nil {
		return err
	}
	if d.needsRunAs(src) {
		return d.pullStaged(ctx, src, w, progress)
	}
	return deviceErr(d.syncClient().Recv(ctx, src, w, progress))
}

// PushDir recursively pushes the local directory localDir under destDir on
// the device, preserving the relative layout. Local symlinks are skipped.
//
// Some devices (Android 9 in particular) create directories over sync with
// modes that adbd itself then cannot write into; each created directory is
// therefore opened up with a recursive chmod 777 of its topmost new
// ancestor. Destinations needing run-as go file-by-file through staging.
func (d *Device) PushDir(ctx context.Context, localDir, destDir string) error {
	destDir, err := d.ResolvePath(destDir)
	if err != nil {
		return err
	}
	localDir = filepath.Clean(localDir)

	made := make(map[string]bool)
	ensureDir := func(dir string) error {
		if made[dir] {
			return nil
		}
		top, err := d.topmostMissingDir(ctx, dir)
		if err != nil {
			return err
		}
		if _, err := d.shellCommandAs(ctx, "mkdir -p "+adbexec.Quote(dir), d.needsRunAs(dir)); err != nil {
			return err
		}
		if top != "" {
			if _, err := d.shellCommandAs(ctx, "chmod -R 777 "+adbexec.Quote(top), d.needsRunAs(top)); err != nil {
				return err
			}
		}
		made[dir] = true
		return nil
	}

	return filepath.WalkDir(localDir, func(p string, ent fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := destDir
		if rel != "." {
			remote = destDir + "/" + filepath.ToSlash(rel)
		}
		switch {
		case ent.IsDir():
			return ensureDir(remote)
		case !ent.Type().IsRegular():
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if d.needsRunAs(remote) {
			return d.pushStaged(ctx, f, remote, defaultFileMode, time.Now(), nil)
		}
		return deviceErr(d.syncClient().Send(ctx, remote, defaultFileMode, time.Now(), f, nil))
	})
}

// topmostMissingDir walks up from dir and returns the highest ancestor which
// does not exist yet, or "" when dir itself already exists.
func (d *Device) topmostMissingDir(ctx context.Context, dir string) (string, error) {
	var top string
	for p := dir; p != "/" && p != ""; p = path.Dir(p) {
		ok, err := d.PathExists(ctx, p, d.needsRunAs(p))
		if err != nil {
			return "", err
		}
		if ok {
			break
		}
		top = p
	}
	return top, nil
}

// PullDir recursively pulls the device directory srcDir into the local
// directory localDir. Device symlinks are skipped. Local directories are
// created with mode 0o755.
//
// The tree is listed and read over the sync protocol directly, without
// run-as staging, so app-private directories are only reachable where the
// shell user can already read them (debuggable apps on most devices expose
// nothing here); use [Device.Pull] per file for staged access.
func (d *Device) PullDir(ctx context.Context, srcDir, localDir string) error {
	srcDir, err := d.ResolvePath(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}
	return d.pullDir(ctx, srcDir, localDir)
}

func (d *Device) pullDir(ctx context.Context, srcDir, localDir string) error {
	entries, err := d.syncClient().List(ctx, srcDir)
	if err != nil {
		return deviceErr(err)
	}
	for _, ent := range entries {
		remote := srcDir + "/" + ent.Name()
		local := filepath.Join(localDir, ent.Name())
		switch {
		case bionic.IsSymlink(ent.RawMode()):
			continue
		case ent.IsDir():
			if err := os.MkdirAll(local, 0o755); err != nil {
				return err
			}
			if err := d.pullDir(ctx, remote, local); err != nil {
				return err
			}
		case bionic.IsRegular(ent.RawMode()):
			if err := d.pullFile(ctx, remote, local); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Device) pullFile(ctx context.Context, remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	if err := d.syncClient().Recv(ctx, remote, f, nil); err != nil {
		f.Close()
		return fmt.Errorf("pull %s: %w", remote, deviceErr(err))
	}
	return f.Close()
}
