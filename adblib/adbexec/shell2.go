package adbexec

import (
	"bytes"
	"context"
	"io"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/adb/adbproto"
	"github.com/tetherkit/tetherkit/adb/adbproto/shellproto2"
)

// Result is the outcome of a command run over the shell v2 protocol, with
// stdout and stderr separated and the real exit status. Output is raw; no
// pty is allocated, so there is no CRLF mangling to undo.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes command over the shell v2 protocol. It fails with an error
// matching [adb.ErrFeatureNotSupported] when the device does not support
// shell v2 ([adbproto.FeatureShell2]); callers can fall back to [Output] or
// [Text]. If input is not nil, it is copied to the command's stdin.
func Run(ctx context.Context, srv adb.Dialer, command string, input io.Reader) (*Result, error) {
	if err := adb.SupportsFeature(srv, adbproto.FeatureShell2); err != nil {
		return nil, err
	}
	conn, err := srv.DialADB(ctx, shellproto2.Service(command))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close() // interrupt the packet reads
	})
	defer stop()

	inputErrCh := make(chan error, 1)
	go func() {
		inputErrCh <- writeStdin(conn, input)
	}()

	res := new(Result)
	var stdout, stderr bytes.Buffer
	var exited bool
	for !exited {
		id, payload, err := shellproto2.ReadPacket(conn)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		switch id {
		case shellproto2.PacketStdout:
			_, err = io.Copy(&stdout, payload)
		case shellproto2.PacketStderr:
			_, err = io.Copy(&stderr, payload)
		case shellproto2.PacketExit:
			var code [1]byte
			if _, err = io.ReadFull(payload, code[:]); err == nil {
				res.ExitCode = int(code[0])
				exited = true
			}
		default:
			_, err = io.Copy(io.Discard, payload) // ignore unknown packets
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, adbproto.ProtocolErrorf("read shell packet payload: %w", err)
		}
	}

	// the command may exit without draining its stdin (head, timeouts), in
	// which case the writer fails with a broken pipe; that is not an error
	// once the exit status arrived
	conn.Close() // unblock the writer
	<-inputErrCh

	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res, nil
}

func writeStdin(conn io.Writer, input io.Reader) error {
	if input != nil {
		buf := make([]byte, shellproto2.MaxChunk)
		for {
			n, err := input.Read(buf)
			if n > 0 {
				if werr := shellproto2.WritePacket(conn, shellproto2.PacketStdin, buf[:n]); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}
	}
	return shellproto2.WriteCloseStdin(conn)
}
