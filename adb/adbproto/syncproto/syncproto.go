// Package syncproto implements the binary sync sub-protocol used for file
// transfer once a service connection has been switched into sync mode.
//
// Every frame is a 4-byte packet ID followed by a little-endian uint32 and,
// for some packets, a payload of that many bytes.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/SYNC.TXT
package syncproto

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/tetherkit/tetherkit/adb/adbproto"
)

type PacketID [4]byte

var (
	Packet_LSTAT_V1 = PacketID{'S', 'T', 'A', 'T'}
	Packet_STAT_V2  = PacketID{'S', 'T', 'A', '2'} // if stat_v2
	Packet_LSTAT_V2 = PacketID{'L', 'S', 'T', '2'} // if stat_v2
	Packet_LIST_V1  = PacketID{'L', 'I', 'S', 'T'}
	Packet_DENT_V1  = PacketID{'D', 'E', 'N', 'T'}
	Packet_SEND_V1  = PacketID{'S', 'E', 'N', 'D'}
	Packet_SEND_V2  = PacketID{'S', 'N', 'D', '2'} // if sendrecv_v2
	Packet_RECV_V1  = PacketID{'R', 'E', 'C', 'V'}
	Packet_RECV_V2  = PacketID{'R', 'C', 'V', '2'} // if sendrecv_v2
	Packet_DONE     = PacketID{'D', 'O', 'N', 'E'} // signals the end of an array of values
	Packet_DATA     = PacketID{'D', 'A', 'T', 'A'}
	Packet_OKAY     = PacketID{'O', 'K', 'A', 'Y'}
	Packet_FAIL     = PacketID{'F', 'A', 'I', 'L'}
	Packet_QUIT     = PacketID{'Q', 'U', 'I', 'T'}
)

func (id PacketID) String() string {
	return string(id[:])
}

// SyncFail is a FAIL response from the device, with the message verbatim. It
// matches [adbproto.ErrServer].
type SyncFail string

func (s SyncFail) Error() string {
	return string(s)
}

func (s SyncFail) Is(target error) bool {
	return target == adbproto.ErrServer
}

// Unwrap exposes the errno behind the failure message, when the text is
// recognized, so callers can match fs.ErrNotExist and friends.
func (s SyncFail) Unwrap() error {
	if e, ok := adbproto.ErrnoFromMessage(string(s)); ok {
		return e
	}
	return nil
}

const (
	// SendDataMax is the chunk size used when sending file data.
	SendDataMax = 32 * 1024

	// RecvDataMax is the largest chunk the device will send for a RECV, and
	// the chunk size surfaced to consumers when receiving file data.
	RecvDataMax = 64 * 1024
)

type SyncStat1 struct {
	// Packet_LSTAT_V1
	Mode  uint32
	Size  uint32
	Mtime uint32
}

type SyncDent1 struct {
	// Packet_DENT_V1
	Mode    uint32
	Size    uint32
	Mtime   uint32
	Namelen uint32
	// followed by `namelen` bytes of the name.
}

const (
	SyncFlag_None   uint32 = 0
	SyncFlag_Brotli uint32 = 1          // if sendrecv_v2_brotli
	SyncFlag_LZ4    uint32 = 2          // if sendrecv_v2_lz4
	SyncFlag_Zstd   uint32 = 4          // if sendrecv_v2_zstd
	SyncFlag_DryRun uint32 = 0x80000000 // if sendrecv_v2_dry_run_send
)

// send_v1 sends the path and mode together as "path,mode".

// send_v2 sends just the path in the first request, then the details.
type SyncSend2 struct {
	// Packet_SEND_V2
	Mode  uint32
	Flags uint32
}

// recv_v1 sends just the path.

// recv_v2 sends just the path in the first request, then the details.
type SyncRecv2 struct {
	// Packet_RECV_V2
	Flags uint32
}

type SyncData struct {
	// Packet_DATA
	Size uint32
	// followed by `size` bytes of data.
}

type SyncStatus struct {
	// Packet_OKAY, Packet_FAIL, Packet_DONE
	Msglen uint32
	// followed by `msglen` bytes of error message, if id == Packet_FAIL.
}

// SyncRequest writes a request frame carrying arg as its payload (for most
// requests, a device path).
func SyncRequest(w io.Writer, id PacketID, arg string) error {
	req := make([]byte, 4+4+len(arg))
	copy(req[0:4], id[:])
	binary.LittleEndian.PutUint32(req[4:8], uint32(len(arg)))
	copy(req[8:], arg)
	if _, err := w.Write(req); err != nil {
		return adbproto.ProtocolErrorf("sync request %s: %w", id, err)
	}
	return nil
}

// SyncRequestObject writes a request frame whose body is the little-endian
// encoding of obj.
func SyncRequestObject(w io.Writer, id PacketID, obj any) error {
	req, err := binary.Append(id[:], binary.LittleEndian, obj)
	if err != nil {
		return adbproto.ProtocolErrorf("encode sync request %s: %w", id, err)
	}
	if _, err := w.Write(req); err != nil {
		return adbproto.ProtocolErrorf("sync request %s: %w", id, err)
	}
	return nil
}

// SyncResponse reads an OKAY response, converting a FAIL into an error.
func SyncResponse(r io.Reader) error {
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		return adbproto.ProtocolErrorf("read sync response id: %w", err)
	}
	if err := SyncResponseCheck(r, PacketID(b)); err != nil {
		return err
	}
	if id := Packet_OKAY; PacketID(b) != id {
		return adbproto.ProtocolErrorf("unexpected sync response id %q (expected %s)", PacketID(b), id)
	}
	return nil
}

// SyncResponseObject reads a response frame of the given type, converting a
// FAIL into an error. It returns nil without an error on DONE.
func SyncResponseObject[T any](r io.Reader, id PacketID) (*T, error) {
	var obj T
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, adbproto.ProtocolErrorf("read sync response id: %w", err)
	}
	if err := SyncResponseCheck(r, PacketID(b)); err != nil {
		return nil, err
	}
	if PacketID(b) != id && PacketID(b) != Packet_DONE {
		return nil, adbproto.ProtocolErrorf("unexpected sync response id %q (expected %s)", PacketID(b), id)
	}
	if err := binary.Read(r, binary.LittleEndian, &obj); err != nil {
		return nil, adbproto.ProtocolErrorf("read sync response %s: %w", id, err)
	}
	if PacketID(b) == Packet_DONE {
		return nil, nil
	}
	return &obj, nil
}

// SyncResponseCheck consumes the rest of a FAIL or OKAY response frame whose
// id has already been read, returning a [SyncFail] for the former.
func SyncResponseCheck(r io.Reader, id PacketID) error {
	switch id {
	case Packet_FAIL:
		var st SyncStatus
		if err := binary.Read(r, binary.LittleEndian, &st); err != nil {
			return adbproto.ProtocolErrorf("read sync fail response: %w", err)
		}
		msg := make([]byte, st.Msglen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return adbproto.ProtocolErrorf("read sync fail response: %w", err)
		}
		return SyncFail(msg)
	case Packet_OKAY:
		var st SyncStatus
		if err := binary.Read(r, binary.LittleEndian, &st); err != nil {
			return adbproto.ProtocolErrorf("read sync okay response: %w", err)
		}
		if st.Msglen != 0 {
			return adbproto.ProtocolErrorf("read sync okay response: message length must be zero, got %d", st.Msglen)
		}
	}
	return nil
}

// SyncDataReader returns a reader over the DATA frames of a RECV response. It
// returns [io.EOF] after the DONE frame, or a sticky error otherwise. The
// reader is not safe for concurrent use.
func SyncDataReader(r io.Reader) io.Reader {
	return &syncDataReader{r: r}
}

type syncDataReader struct {
	r   io.Reader
	buf []byte
	off int
	err error
}

func (d *syncDataReader) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.off == len(d.buf) {
		st, err := SyncResponseObject[SyncData](d.r, Packet_DATA)
		if err != nil {
			d.err = err
			return 0, d.err
		}
		if st == nil {
			// DONE, no chunks left
			d.err = io.EOF
			return 0, d.err
		}
		if st.Size > RecvDataMax {
			d.err = adbproto.ProtocolErrorf("sync data chunk too large (len=%d)", st.Size)
			return 0, d.err
		}
		if cap(d.buf) < int(st.Size) {
			d.buf = make([]byte, st.Size)
		}
		d.buf = d.buf[:st.Size]
		if _, err := io.ReadFull(d.r, d.buf); err != nil {
			d.err = adbproto.ProtocolErrorf("read sync data chunk (len=%d): %w", st.Size, err)
			return 0, d.err
		}
		d.off = 0
	}
	n := copy(p, d.buf[d.off:])
	d.off += n
	return n, nil
}

// SyncDataWriter returns a writer which emits DATA frames of at most
// [SendDataMax] bytes each. Close writes the final DONE frame carrying mtime;
// it never emits a zero-length DATA frame, so closing an unwritten writer
// sends DONE alone. Close does not read the device's final status.
func SyncDataWriter(w io.Writer, mtime int64) io.WriteCloser {
	d := &syncDataWriter{w: w, mtime: mtime}
	d.buf = d.storage[:8]
	copy(d.buf[0:4], Packet_DATA[:])
	return d
}

type syncDataWriter struct {
	w       io.Writer
	mtime   int64
	buf     []byte // frame being assembled, header included
	err     error
	storage [8 + SendDataMax]byte
}

func (d *syncDataWriter) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	var total int
	for len(p) > 0 {
		room := cap(d.buf) - len(d.buf)
		n := min(len(p), room)
		d.buf = append(d.buf, p[:n]...)
		p = p[n:]
		total += n
		if len(d.buf) == cap(d.buf) {
			if err := d.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (d *syncDataWriter) flush() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) == 8 {
		return nil // nothing buffered
	}
	binary.LittleEndian.PutUint32(d.buf[4:8], uint32(len(d.buf)-8))
	if _, err := d.w.Write(d.buf); err != nil {
		d.err = adbproto.ProtocolErrorf("send sync data chunk: %w", err)
		return d.err
	}
	d.buf = d.buf[:8]
	return nil
}

func (d *syncDataWriter) Close() error {
	if err := d.flush(); err != nil {
		return err
	}
	var done [8]byte
	copy(done[0:4], Packet_DONE[:])
	binary.LittleEndian.PutUint32(done[4:8], uint32(d.mtime))
	if _, err := d.w.Write(done[:]); err != nil {
		d.err = adbproto.ProtocolErrorf("send sync done: %w", err)
		return d.err
	}
	d.err = errors.New("sync data writer closed")
	return nil
}
