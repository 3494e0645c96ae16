package adbproto

import (
	"errors"
	"io/fs"
	"testing"
)

func TestErrnoFromMessage(t *testing.T) {
	for _, tc := range []struct {
		msg    string
		errno  Errno
		expect bool
	}{
		{"No such file or directory", ENOENT, true},
		{"open failed: No such file or directory", ENOENT, true},
		{"Read-only file system", EROFS, true},
		{"Permission denied", EACCES, true},
		{"couldn't create file: Is a directory", EISDIR, true},
		{"something unexpected", 0, false},
		{"", 0, false},
	} {
		e, ok := ErrnoFromMessage(tc.msg)
		if ok != tc.expect {
			t.Errorf("%q: expected ok=%v, got %v", tc.msg, tc.expect, ok)
			continue
		}
		if ok && e != tc.errno {
			t.Errorf("%q: expected errno %d, got %d", tc.msg, tc.errno, e)
		}
	}
}

func TestErrnoIs(t *testing.T) {
	if !errors.Is(ENOENT, fs.ErrNotExist) {
		t.Error("ENOENT should match fs.ErrNotExist")
	}
	if !errors.Is(EACCES, fs.ErrPermission) || !errors.Is(EPERM, fs.ErrPermission) {
		t.Error("EACCES and EPERM should match fs.ErrPermission")
	}
	if !errors.Is(EEXIST, fs.ErrExist) {
		t.Error("EEXIST should match fs.ErrExist")
	}
	if errors.Is(EROFS, fs.ErrNotExist) {
		t.Error("EROFS should not match fs.ErrNotExist")
	}
}

func TestErrnoError(t *testing.T) {
	if act, exp := ENOENT.Error(), "No such file or directory"; act != exp {
		t.Errorf("expected %q, got %q", exp, act)
	}
	if act, exp := Errno(9999).Error(), "errno 9999"; act != exp {
		t.Errorf("expected %q, got %q", exp, act)
	}
}
