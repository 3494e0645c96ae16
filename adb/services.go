package adb

import (
	"context"
	"io"
	"net"
)

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/daemon/services.cpp;drc=a9b3987d2a42a40de0d67fcecb50c9716639ef03

// Shell executes a command using the legacy shell protocol. This allocates a
// pty on the device, which cooks the input/output (in particular, LF is
// translated to CRLF).
func Shell(ctx context.Context, srv Dialer, command string) (io.ReadWriteCloser, error) {
	conn, err := srv.DialADB(ctx, "shell:"+command)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Exec executes a command using the exec protocol, which uses raw mode to
// prevent the output or input from being mangled. Use it for commands which
// read or write binary data.
func Exec(ctx context.Context, srv Dialer, command string) (io.ReadWriteCloser, error) {
	conn, err := srv.DialADB(ctx, "exec:"+command)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Sync switches a fresh connection into sync mode for file transfer. The
// returned connection speaks the sync sub-protocol; see
// [github.com/tetherkit/tetherkit/adb/adbproto/syncproto]. Unlike the other
// service helpers it returns a [net.Conn], since sync transfers are long
// lived and callers bound them with deadlines.
func Sync(ctx context.Context, srv Dialer) (net.Conn, error) {
	return srv.DialADB(ctx, "sync:")
}
