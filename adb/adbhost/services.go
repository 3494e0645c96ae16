package adbhost

import (
	"context"
	"iter"
	"strconv"

	"github.com/tetherkit/tetherkit/adb/adbproto"
)

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb.cpp;l=1133-1242;drc=9c843a66d11d85e1f69e944f1b37314d3e47aab1

// Version returns the host server's internal version number.
func Version(ctx context.Context, srv *Dialer) (int, error) {
	conn, err := srv.DialADBHost(ctx, "host:version")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	buf, err := adbproto.ReadProtocolBytes(conn, nil)
	if err != nil {
		return 0, adbproto.ProtocolErrorf("read version: %w", err)
	}
	v, err := strconv.ParseUint(string(buf), 16, 32)
	if err != nil {
		return 0, adbproto.ProtocolErrorf("parse version %q: %w", buf, err)
	}
	return int(v), nil
}

// Kill kills the ADB server. This may fail if ADB_REJECT_KILL_SERVER=1 is set
// on the server.
func Kill(ctx context.Context, srv *Dialer) error {
	conn, err := srv.DialADBHost(ctx, "host:kill")
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// Devices gets the list of devices using "host:devices" or "host:devices-l".
// A server with no attached devices yields an empty list, not an error.
func Devices(ctx context.Context, srv *Dialer, long bool) ([]*TransportInfo, error) {
	var svc string
	if long {
		svc = "host:devices-l"
	} else {
		svc = "host:devices"
	}
	conn, err := srv.DialADBHost(ctx, svc)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf, err := adbproto.ReadProtocolBytes(conn, nil)
	if err != nil {
		return nil, adbproto.ProtocolErrorf("read device list: %w", err)
	}
	return ParseDevices(buf)
}

// TrackDevices streams the device list as it changes, using
// "host:track-devices". The iteration ends when ctx is cancelled or the
// connection breaks; the final error is stored in *err.
//
//	var err error
//	for devs := range adbhost.TrackDevices(ctx, srv, true)(&err) {
//	    fmt.Println(devs)
//	}
//	if err != nil {
//	    panic(err)
//	}
func TrackDevices(ctx context.Context, srv *Dialer, long bool) func(*error) iter.Seq[[]*TransportInfo] {
	return newErrIter(func(yield func([]*TransportInfo) bool) error {
		var svc string
		if long {
			svc = "host:track-devices-l"
		} else {
			svc = "host:track-devices"
		}
		conn, err := srv.DialADBHost(ctx, svc)
		if err != nil {
			return err
		}
		defer conn.Close()

		stop := context.AfterFunc(ctx, func() {
			conn.Close() // interrupt the blocking read
		})
		defer stop()

		var buf []byte
		for {
			buf, err = adbproto.ReadProtocolBytes(conn, buf[:0])
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return adbproto.ProtocolErrorf("read next device tracker item: %w", err)
			}
			devs, err := ParseDevices(buf)
			if err != nil {
				return adbproto.ProtocolErrorf("parse device tracker item: %w", err)
			}
			if !yield(devs) {
				return nil
			}
		}
	})
}

func newErrIter[T any](seq func(yield func(T) bool) error) func(*error) iter.Seq[T] {
	return func(err *error) iter.Seq[T] {
		return func(yield func(T) bool) {
			*err = seq(func(v T) bool {
				return yield(v)
			})
		}
	}
}
