package adbhost

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/adb/adbproto"
)

// Transport selects a device to connect to via the host server.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb.cpp;l=1293-1352;drc=9f298fb1f3317371b49439efb20a598b3a881bf3
type Transport interface {
	// hostPrefix is the prefix for device-scoped host services
	// (e.g., forwards).
	hostPrefix() string

	// transport is the service which binds the connection to the device.
	transport() string
}

// Serial selects a device by its serial number.
type Serial string

func (s Serial) String() string {
	return "Serial(" + string(s) + ")"
}

func (s Serial) hostPrefix() string {
	if s == "" {
		return ""
	}
	return "host-serial:" + string(s)
}

func (s Serial) transport() string {
	if s == "" {
		return ""
	}
	return "host:transport:" + string(s)
}

// TransportID selects a specific transport by its numeric ID.
type TransportID uint64

func (t TransportID) String() string {
	return "TransportID(" + strconv.FormatUint(uint64(t), 10) + ")"
}

func (t TransportID) hostPrefix() string {
	return "host-transport-id:" + strconv.FormatUint(uint64(t), 10)
}

func (t TransportID) transport() string {
	return "host:transport-id:" + strconv.FormatUint(uint64(t), 10)
}

// DefaultTransport selects the first matching device as long as there is only
// one of that kind.
type DefaultTransport string

const (
	TransportUSB   DefaultTransport = "usb"   // usb device
	TransportLocal DefaultTransport = "local" // emulator
	TransportAny   DefaultTransport = "any"   // any device
)

func (t DefaultTransport) String() string {
	return "DefaultTransport(" + string(t) + ")"
}

func (t DefaultTransport) hostPrefix() string {
	return "host"
}

func (t DefaultTransport) transport() string {
	return "host:transport-" + string(t)
}

// TransportDialer is an [adb.Dialer] which binds each new connection to a
// device through a host server.
type TransportDialer struct {
	d *Dialer
	t Transport
	f atomic.Pointer[map[adbproto.Feature]struct{}]
}

var (
	_ adb.Dialer   = (*TransportDialer)(nil)
	_ adb.Features = (*TransportDialer)(nil)
)

// Server returns an [adb.Dialer] for a [Transport] accessible through the
// host server. If d is nil, a zero Dialer is used.
func Server(d *Dialer, t Transport) *TransportDialer {
	return &TransportDialer{d: d, t: t}
}

// DialADB opens a fresh connection to the host server, binds it to the
// transport, and requests svc on it.
func (h *TransportDialer) DialADB(ctx context.Context, svc string) (net.Conn, error) {
	transportSvc := h.t.transport()
	if transportSvc == "" {
		return nil, errors.New("invalid transport")
	}
	conn, err := h.d.DialADBHost(ctx, transportSvc)
	if err != nil {
		return nil, err
	}
	if err := adbService(ctx, conn, svc); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialADBHostTransport opens a connection to the device-scoped host service
// svc (e.g., "forward:...") without binding the connection to the device.
func (h *TransportDialer) DialADBHostTransport(ctx context.Context, svc string) (net.Conn, error) {
	prefix := h.t.hostPrefix()
	if prefix == "" {
		return nil, errors.New("invalid transport")
	}
	return h.d.DialADBHost(ctx, prefix+":"+svc)
}

// SupportsFeature returns true if the transport supports the provided
// feature. It always returns false before [TransportDialer.LoadFeatures] has
// succeeded.
func (h *TransportDialer) SupportsFeature(f adbproto.Feature) bool {
	if fm := h.f.Load(); fm != nil {
		_, ok := (*fm)[f]
		return ok
	}
	return false
}

// LoadFeatures fetches the list of optional features supported by the
// transport.
func (h *TransportDialer) LoadFeatures(ctx context.Context) error {
	conn, err := h.DialADBHostTransport(ctx, "features")
	if err != nil {
		return err
	}
	defer conn.Close()

	buf, err := adbproto.ReadProtocolBytes(conn, nil)
	if err != nil {
		return err
	}

	fm := map[adbproto.Feature]struct{}{}
	for feat := range bytes.SplitSeq(buf, []byte{','}) {
		fm[adbproto.Feature(feat)] = struct{}{}
	}
	h.f.Store(&fm)

	return nil
}
