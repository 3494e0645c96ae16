// Package adbnet dials sockets on a device through the adb server, exposing
// them as [net.Conn]s. TCP ports, unix domain sockets, and abstract unix
// sockets (the "@name" convention) are supported.
package adbnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/tetherkit/tetherkit/adb"
)

// Dialer opens connections to sockets on a device. It is the device-side
// counterpart of [net.Dialer].
type Dialer struct {
	// Server is the device transport to connect through. It must not be nil.
	Server adb.Dialer
}

// Dial connects to address on the device over network using server.
func Dial(server adb.Dialer, network, address string) (net.Conn, error) {
	d := Dialer{Server: server}
	return d.DialContext(context.Background(), network, address)
}

// Dial is like [net.Dialer.Dial].
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext is like [net.Dialer.DialContext]. The connection is made by
// adbd on the device, so the address is resolved there, not locally.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.Server == nil {
		return nil, errors.New("adbnet: no server")
	}
	svc, err := Service(network, address)
	if err != nil {
		return nil, err
	}
	return d.Server.DialADB(ctx, svc)
}

// Service maps a network/address pair to the adb socket service string which
// connects to it (e.g. "tcp:8080" or "localabstract:chrome_devtools_remote").
func Service(network, address string) (string, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return "", err
		}
		portnum, err := net.LookupPort(network, port)
		if err != nil {
			return "", err
		}
		if network != "tcp" {
			// adbd itself can't be told to prefer a protocol, so only
			// literal addresses of the right family are accepted
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return "", fmt.Errorf("network %s requires a literal ip address", network)
			}
			if (network == "tcp4") != addr.Is4() {
				return "", fmt.Errorf("address %s does not match network %s", host, network)
			}
		}
		if host == "" || host == "localhost" {
			return "tcp:" + strconv.Itoa(portnum), nil
		}
		return "tcp:" + strconv.Itoa(portnum) + ":" + host, nil
	case "unix":
		if name, ok := strings.CutPrefix(address, "@"); ok {
			return "localabstract:" + name, nil
		}
		return "localfilesystem:" + address, nil
	default:
		return "", fmt.Errorf("%w: cannot be reached through adb", net.UnknownNetworkError(network))
	}
}
