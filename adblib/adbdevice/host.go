// Package adbdevice provides a high-level interface to devices attached to an
// ADB host server: shell execution, file push/pull over the sync protocol,
// run-as access to app-private storage, package management, and TCP port
// forwarding.
//
// A [Host] is an immutable configuration value; every operation on a [Device]
// opens its own connection to the server and closes it on completion, so
// operations may run concurrently without coordination.
package adbdevice

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/tetherkit/tetherkit/adb/adbhost"
)

// EnvDeviceSerial is the environment variable consulted by
// [Host.DeviceOrDefault] when no explicit serial is supplied.
const EnvDeviceSerial = "ANDROID_SERIAL"

// Host is the configuration for an ADB host server. The zero value connects
// to [adbhost.DefaultAddr] with a 5 second connect timeout.
type Host struct {
	// Addr is the server address. If empty, [adbhost.DefaultAddr] is used.
	Addr string

	// ConnectTimeout bounds connection establishment per operation. If zero,
	// [adbhost.DefaultConnectTimeout] is used.
	ConnectTimeout time.Duration
}

func (h *Host) dialer() *adbhost.Dialer {
	if h == nil {
		return nil
	}
	return &adbhost.Dialer{
		Addr:           h.Addr,
		ConnectTimeout: h.ConnectTimeout,
	}
}

func (h *Host) addr() string {
	if h != nil && h.Addr != "" {
		return h.Addr
	}
	return adbhost.DefaultAddr
}

// Version returns the host server's internal version number.
func (h *Host) Version(ctx context.Context) (int, error) {
	v, err := adbhost.Version(ctx, h.dialer())
	return v, deviceErr(err)
}

// Devices lists the devices attached to the server. A server with no attached
// devices yields an empty list, not an error.
func (h *Host) Devices(ctx context.Context) ([]*adbhost.TransportInfo, error) {
	devs, err := adbhost.Devices(ctx, h.dialer(), true)
	return devs, deviceErr(err)
}

// DeviceOrDefault binds to the device with the given serial. If serial is
// empty, the ANDROID_SERIAL environment variable is consulted; failing that,
// a sole attached device is selected. It fails with [ErrMultipleDevices] if
// the choice is ambiguous, [ErrUnknownDevice] if the serial does not match an
// online device, and [ErrNoDevices] if nothing is attached.
func (h *Host) DeviceOrDefault(ctx context.Context, serial string) (*Device, error) {
	devs, err := h.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var online []*adbhost.TransportInfo
	for _, d := range devs {
		if d.State == adbhost.CsDevice {
			online = append(online, d)
		}
	}

	if serial == "" {
		serial = os.Getenv(EnvDeviceSerial)
	}
	if serial != "" {
		for _, d := range online {
			if d.Serial == serial {
				return h.newDevice(d), nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, serial)
	}

	switch len(online) {
	case 0:
		return nil, ErrNoDevices
	case 1:
		return h.newDevice(online[0]), nil
	default:
		return nil, ErrMultipleDevices
	}
}

func (h *Host) newDevice(info *adbhost.TransportInfo) *Device {
	d := &Device{
		Host:      h,
		Serial:    info.Serial,
		Transport: info.Transport,
	}
	d.init()
	return d
}

// StartServer starts the ADB server by spawning the adb binary, which must be
// on PATH. The server socket itself cannot start the server, so this is the
// one place the binary is invoked.
func (h *Host) StartServer(ctx context.Context, adbPath string) error {
	return h.serverCommand(ctx, adbPath, "start-server")
}

// KillServer stops the ADB server via the adb binary on PATH.
func (h *Host) KillServer(ctx context.Context, adbPath string) error {
	return h.serverCommand(ctx, adbPath, "kill-server")
}

func (h *Host) serverCommand(ctx context.Context, adbPath, command string) error {
	if adbPath == "" {
		adbPath = "adb"
	}
	hostname, port, err := net.SplitHostPort(h.addr())
	if err != nil {
		return fmt.Errorf("parse server address %q: %w", h.addr(), err)
	}
	cmd := exec.CommandContext(ctx, adbPath, "-H", hostname, "-P", port, command)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adb %s: %w (output: %q)", command, err, out)
	}
	return nil
}
