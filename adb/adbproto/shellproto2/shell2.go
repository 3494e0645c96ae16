// Package shellproto2 implements the shell v2 protocol, which multiplexes
// stdout and stderr and carries the command's exit status. Each packet is a
// one-byte ID followed by a little-endian uint32 payload length.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/shell_protocol.h
package shellproto2

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/tetherkit/tetherkit/adb/adbproto"
)

// PacketID is a shell v2 packet ID.
type PacketID uint8

const (
	PacketStdin  PacketID = 0
	PacketStdout PacketID = 1
	PacketStderr PacketID = 2
	PacketExit   PacketID = 3

	// PacketCloseStdin asks the daemon to close the subprocess stdin.
	PacketCloseStdin PacketID = 4

	// PacketWindowSizeChange carries an ASCII "rowxcol,xpixelxypixel".
	PacketWindowSizeChange PacketID = 5
)

// HeaderSize is the ID byte plus the payload length.
const HeaderSize = 1 + 4

// MaxChunk bounds the payload size written per packet. The daemon splits
// larger reads itself, so the value only affects buffering on our side.
const MaxChunk = 64 * 1024

// Service builds a shell v2 service string for command. Raw mode (no pty) is
// used, since this package exists for programmatic execution; an empty
// command starts an interactive shell.
func Service(command string) string {
	return "shell,v2,raw:" + command
}

// ServiceWithTerm is [Service] with the TERM environment variable set. An
// invalid term (containing "," or ":") is ignored.
func ServiceWithTerm(command, term string) string {
	var b strings.Builder
	b.WriteString("shell,v2,raw")
	if term != "" && !strings.ContainsAny(term, ",:") {
		b.WriteString(",TERM=" + term)
	}
	b.WriteString(":")
	b.WriteString(command)
	return b.String()
}

// ReadPacket reads the next packet header and returns its ID and a reader
// limited to its payload. The payload must be fully consumed before the next
// call.
func ReadPacket(r io.Reader) (PacketID, *io.LimitedReader, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, adbproto.ProtocolErrorf("read shell packet header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	return PacketID(hdr[0]), &io.LimitedReader{R: r, N: int64(n)}, nil
}

// WritePacket writes a packet, splitting payloads larger than [MaxChunk].
func WritePacket(w io.Writer, id PacketID, payload []byte) error {
	hdr := make([]byte, HeaderSize)
	hdr[0] = uint8(id)
	for {
		n := min(len(payload), MaxChunk)
		binary.LittleEndian.PutUint32(hdr[1:], uint32(n))
		if _, err := w.Write(hdr); err != nil {
			return adbproto.ProtocolErrorf("write shell packet header: %w", err)
		}
		if n != 0 {
			if _, err := w.Write(payload[:n]); err != nil {
				return adbproto.ProtocolErrorf("write shell packet payload: %w", err)
			}
		}
		if payload = payload[n:]; len(payload) == 0 {
			return nil
		}
	}
}

// WriteCloseStdin signals end of input to the subprocess.
func WriteCloseStdin(w io.Writer) error {
	return WritePacket(w, PacketCloseStdin, nil)
}
