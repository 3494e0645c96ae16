// Package adbexec runs commands over the legacy shell and exec protocols.
//
// Commands are interpreted by /system/bin/sh -c and are not escaped by this
// package; use [Quote] to build shell-safe command strings.
package adbexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/internal/android"
)

// ErrUTF8 matches decode failures on shell output. Output is surfaced as-is
// or not at all, never with replacement characters.
var ErrUTF8 = errors.New("shell output is not valid UTF-8")

// Quote quotes arguments for the device shell.
func Quote(args ...string) string {
	return android.QuoteShell(args...)
}

// Output returns the merged stdout/stderr of command run over the exec
// protocol (raw mode, suitable for binary output). If input is not nil, it is
// written to the command's standard input. On error, any output received so
// far is returned.
func Output(ctx context.Context, srv adb.Dialer, command string, input io.Reader) ([]byte, error) {
	conn, err := adb.Exec(ctx, srv, command)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close() // this will interrupt the input/output copy
	})
	defer stop()

	inputErrCh := make(chan error, 1)
	go func() {
		var err error
		if input != nil {
			_, err = io.Copy(conn, input)
		}
		inputErrCh <- err
	}()

	var buf bytes.Buffer
	_, outputErr := io.Copy(&buf, conn)

	inputErr := <-inputErrCh // wait for the input copying to finish
	if err := ctx.Err(); err != nil {
		return buf.Bytes(), err // if the context was cancelled, that error takes precedence
	}
	if err := inputErr; err != nil {
		return buf.Bytes(), fmt.Errorf("write stdin: %w", err) // stdin errors first since they could be caused by the input reader failing
	}
	if err := outputErr; err != nil {
		return buf.Bytes(), fmt.Errorf("read stdout: %w", err) // output errors would only be caused by a connection close or by a network error, so check for it last
	}
	return buf.Bytes(), nil
}

// Text returns the output of command run over the legacy shell protocol,
// decoded as UTF-8 with CRLF normalized to LF. The shell protocol allocates a
// pty, which is what produces the CRLF line endings in the first place.
func Text(ctx context.Context, srv adb.Dialer, command string) (string, error) {
	conn, err := adb.Shell(ctx, srv, command)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		return "", fmt.Errorf("read output: %w", err)
	}
	return DecodeOutput(buf.Bytes())
}

// DecodeOutput decodes shell output as UTF-8, normalizing CRLF to LF. Invalid
// UTF-8 is an error matching [ErrUTF8], not silently lossy-converted.
func DecodeOutput(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrUTF8
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n"), nil
}
