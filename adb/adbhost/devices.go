package adbhost

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectionState is the state of a device known to the ADB host. The server
// sends it as a string, so it is kept as one for forwards compatibility.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb.h;l=105-123;drc=4af6e4ff6ff587b344236c30cb3d6765cb1de6be
type ConnectionState string

const (
	CsConnecting   ConnectionState = "connecting"
	CsAuthorizing  ConnectionState = "authorizing"
	CsUnauthorized ConnectionState = "unauthorized"
	CsNoPerm       ConnectionState = "no permissions"
	CsDetached     ConnectionState = "detached"
	CsOffline      ConnectionState = "offline"

	// After the connection handshake, the state describes the type of service
	// on the other end of the transport.

	CsBootloader ConnectionState = "bootloader"
	CsDevice     ConnectionState = "device"
	CsHost       ConnectionState = "host"
	CsRecovery   ConnectionState = "recovery"
	CsSideload   ConnectionState = "sideload"
	CsRescue     ConnectionState = "rescue"
)

// ParseConnectionState attempts to parse the provided string as a connection
// state.
func ParseConnectionState(s string) ConnectionState {
	if strings.HasPrefix(s, string(CsNoPerm)+" (") {
		return CsNoPerm // adb can append a reason to this one
	}
	return ConnectionState(s)
}

func (c ConnectionState) String() string {
	if c == "" {
		return "unknown"
	}
	return string(c)
}

// IsOnline returns true if the state is considered to be online.
func (c ConnectionState) IsOnline() bool {
	switch c {
	case CsBootloader, CsDevice, CsHost, CsRecovery, CsSideload, CsRescue:
		return true
	}
	return false
}

// TransportInfo describes a device connected to the ADB host. Only Serial and
// State are present in short listings.
type TransportInfo struct {
	Serial          string
	State           ConnectionState
	BusAddress      string
	Product         string
	Model           string
	Device          string
	NegotiatedSpeed int64
	MaxSpeed        int64
	Transport       TransportID
}

// ParseDevices parses the textual "host:devices" or "host:devices-l" payload.
// An empty payload yields an empty list. Note that the textual listing
// sanitizes non-alphanumeric attribute values by replacing them with
// underscores.
func ParseDevices(buf []byte) ([]*TransportInfo, error) {
	var devs []*TransportInfo
	for line := range strings.FieldsFuncSeq(string(buf), func(r rune) bool { return r == '\n' }) {
		var info TransportInfo

		serial, rest, isSerialTab := strings.Cut(line, "\t") // short listings delimit the serial by a tab
		if !isSerialTab {
			serial, rest, _ = strings.Cut(serial, " ")
			rest = strings.TrimLeft(rest, " ") // long listings right-pad with spaces
		}
		// a bare serial with no state still counts as an entry; its state
		// stays unknown
		if serial == "(no serial number)" {
			serial = ""
		}
		info.Serial = serial

		stateStr, rest, isLong := strings.Cut(rest, " ")
		info.State = ParseConnectionState(stateStr)

		if isLong {
			var attrs bool
			for attr := range strings.FieldsSeq(rest) {
				if !attrs {
					info.BusAddress = attr
					attrs = true
					continue
				}
				switch k, v, _ := strings.Cut(attr, ":"); k {
				case "product":
					info.Product = v
				case "model":
					info.Model = v
				case "device":
					info.Device = v
				case "transport_id":
					tid, err := strconv.ParseUint(v, 10, 64)
					if err != nil {
						return devs, fmt.Errorf("parse line %q: parse transport id: %w", line, err)
					}
					info.Transport = TransportID(tid)
				default:
					// ignore unknown attributes for forwards compatibility
				}
			}
		}

		devs = append(devs, &info)
	}
	return devs, nil
}
