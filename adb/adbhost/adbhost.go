// Package adbhost connects to an ADB host server.
package adbhost

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tetherkit/tetherkit/adb/adbproto"
)

// DefaultAddr is the default address for the ADB host server.
var DefaultAddr = "localhost:5037"

// DefaultConnectTimeout bounds connection establishment when the context does
// not carry its own deadline.
const DefaultConnectTimeout = 5 * time.Second

// Dialer connects to an ADB host server.
//
// A nil Dialer acts the same way as a zero Dialer.
type Dialer struct {
	// DialContext is the function used to open the TCP connection. If nil,
	// the default [net.Dialer]'s DialContext is used.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Addr is the server address. If empty, [DefaultAddr] is used.
	Addr string

	// ConnectTimeout bounds the time to establish the connection and receive
	// the OKAY completing the service request. If zero,
	// [DefaultConnectTimeout] is used. It is ignored if ctx already has a
	// deadline.
	ConnectTimeout time.Duration
}

// DialADBHost connects to the specified service on the host server. It will
// return immediately if ctx is cancelled. The connect timeout applies to the
// time to establish the tcp connection and receive the OKAY completing the
// service connection.
func (c *Dialer) DialADBHost(ctx context.Context, svc string) (net.Conn, error) {
	var dc func(ctx context.Context, network, addr string) (net.Conn, error)
	if c != nil && c.DialContext != nil {
		dc = c.DialContext
	} else {
		dc = new(net.Dialer).DialContext
	}
	var addr string
	if c != nil && c.Addr != "" {
		addr = c.Addr
	} else {
		addr = DefaultAddr
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := DefaultConnectTimeout
		if c != nil && c.ConnectTimeout != 0 {
			timeout = c.ConnectTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := dc(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	if err := adbService(ctx, conn, svc); err != nil {
		conn.Close()
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	return conn, nil
}

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/client/adb_client.cpp;l=137-156;drc=c58caa21f0c7efccf1ecbd5a5fd1570ff0c246a3

// adbService requests svc on conn, using the deadline from ctx, and returning
// immediately if ctx is cancelled.
func adbService(ctx context.Context, conn net.Conn, svc string) error {
	ch := make(chan error, 1)
	go func() (err error) {
		defer func() { ch <- err }()
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
			defer conn.SetDeadline(time.Time{})
		}
		if err := adbproto.SendProtocolString(conn, svc); err != nil {
			return adbproto.ProtocolErrorf("send service: %w", err)
		}
		return adbproto.ReadOkayFail(conn)
	}()
	select {
	case err := <-ch:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
