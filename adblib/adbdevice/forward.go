package adbdevice

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tetherkit/tetherkit/adb/adbproto"
)

// Forward asks the host server to forward connections from tcp:local on the
// host to tcp:remote on the device. A local port of 0 lets the server pick;
// the chosen port is returned either way.
func (d *Device) Forward(ctx context.Context, local, remote uint16) (uint16, error) {
	svc := fmt.Sprintf("forward:tcp:%d;tcp:%d", local, remote)
	conn, err := d.dialer.DialADBHostTransport(ctx, svc)
	if err != nil {
		return 0, deviceErr(err)
	}
	defer conn.Close()
	// The server acks the request itself, then the forward being
	// established. Some versions collapse the two; tolerate both.
	if err := adbproto.ReadOkayFail(conn); err != nil {
		return 0, deviceErr(err)
	}
	if local != 0 {
		return local, nil
	}
	// For tcp:0 the server reports the port it picked as a length-prefixed
	// decimal string after the acks.
	s, err := adbproto.ReadProtocolString(conn)
	if err != nil {
		return 0, deviceErr(err)
	}
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, adbproto.ProtocolErrorf("bad forward port %q: %v", s, err)
	}
	return uint16(port), nil
}

// KillForward removes the forward from tcp:local on the host.
func (d *Device) KillForward(ctx context.Context, local uint16) error {
	return d.hostTransportCommand(ctx, fmt.Sprintf("killforward:tcp:%d", local))
}

// KillForwards removes every forward registered for this device.
func (d *Device) KillForwards(ctx context.Context) error {
	return d.hostTransportCommand(ctx, "killforward-all")
}

// Reverse asks the device's adbd to forward connections from tcp:remote on
// the device to tcp:local on the host.
func (d *Device) Reverse(ctx context.Context, remote, local uint16) error {
	return d.reverseCommand(ctx, fmt.Sprintf("reverse:forward:tcp:%d;tcp:%d", remote, local))
}

// KillReverse removes the reverse forward from tcp:remote on the device.
func (d *Device) KillReverse(ctx context.Context, remote uint16) error {
	return d.reverseCommand(ctx, fmt.Sprintf("reverse:killforward:tcp:%d", remote))
}

// KillReverses removes every reverse forward registered on the device.
func (d *Device) KillReverses(ctx context.Context) error {
	return d.reverseCommand(ctx, "reverse:killforward-all")
}

func (d *Device) hostTransportCommand(ctx context.Context, svc string) error {
	conn, err := d.dialer.DialADBHostTransport(ctx, svc)
	if err != nil {
		return deviceErr(err)
	}
	defer conn.Close()
	return deviceErr(adbproto.ReadOkayFail(conn))
}

// reverseCommand runs a reverse: service, which goes over the device
// transport and is acked by adbd with a second status after the host's.
func (d *Device) reverseCommand(ctx context.Context, svc string) error {
	conn, err := d.dialer.DialADB(ctx, svc)
	if err != nil {
		return deviceErr(err)
	}
	defer conn.Close()
	return deviceErr(adbproto.ReadOkayFail(conn))
}
