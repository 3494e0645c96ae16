// Package adbsync transfers files over the sync sub-protocol.
//
// Each operation dials a fresh "sync:" service connection and closes it on
// completion; operations never share a socket, so they may run concurrently.
package adbsync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/adb/adbproto/syncproto"
	"github.com/tetherkit/tetherkit/internal/bionic"
)

// ProgressFunc is called with the cumulative number of payload bytes
// transferred so far. It is invoked at most once per chunk boundary crossed
// (32 KiB when sending, 64 KiB when receiving), plus once at the end of the
// transfer if the final count has not been reported yet, regardless of how
// many underlying reads or writes assembled each chunk.
type ProgressFunc func(transferred uint64)

// progressMeter throttles a [ProgressFunc] as a pure function of the byte
// count and chunk size, keeping the callback pattern deterministic.
type progressMeter struct {
	fn          ProgressFunc
	chunk       uint64
	transferred uint64
	reported    uint64
	any         bool
}

func (p *progressMeter) add(n int) {
	if p.fn == nil || n <= 0 {
		return
	}
	prev := p.transferred
	p.transferred += uint64(n)
	if p.transferred/p.chunk > prev/p.chunk {
		p.fn(p.transferred)
		p.reported = p.transferred
		p.any = true
	}
}

func (p *progressMeter) finish() {
	if p.fn == nil {
		return
	}
	if !p.any || p.reported != p.transferred {
		p.fn(p.transferred)
	}
}

// Client performs sync operations against one device.
type Client struct {
	// Server is used to open a connection for each operation.
	Server adb.Dialer

	// CompressionConfig configures sendrecv_v2 compression. If nil,
	// [DefaultCompressionConfig] is used. Compression is only used when the
	// dialer advertises support for it.
	CompressionConfig *CompressionConfig
}

// FileInfo describes a device file. It implements [fs.FileInfo] and
// [fs.DirEntry].
type FileInfo struct {
	name  string
	mode  uint32
	size  uint64
	mtime time.Time
}

func (fi *FileInfo) Name() string       { return fi.name }
func (fi *FileInfo) Size() int64        { return int64(fi.size) }
func (fi *FileInfo) ModTime() time.Time { return fi.mtime }
func (fi *FileInfo) IsDir() bool        { return bionic.IsDir(fi.mode) }
func (fi *FileInfo) Sys() any           { return nil }

// RawMode returns the raw unix mode, including the type bits.
func (fi *FileInfo) RawMode() uint32 { return fi.mode }

// Mode converts the unix mode to an [fs.FileMode].
func (fi *FileInfo) Mode() fs.FileMode {
	m := fs.FileMode(fi.mode & 0o777)
	switch fi.mode & bionic.S_IFMT {
	case bionic.S_IFDIR:
		m |= fs.ModeDir
	case bionic.S_IFLNK:
		m |= fs.ModeSymlink
	case bionic.S_IFSOCK:
		m |= fs.ModeSocket
	case bionic.S_IFIFO:
		m |= fs.ModeNamedPipe
	case bionic.S_IFCHR:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case bionic.S_IFBLK:
		m |= fs.ModeDevice
	}
	if fi.mode&bionic.S_ISUID != 0 {
		m |= fs.ModeSetuid
	}
	if fi.mode&bionic.S_ISGID != 0 {
		m |= fs.ModeSetgid
	}
	if fi.mode&bionic.S_ISVTX != 0 {
		m |= fs.ModeSticky
	}
	return m
}

func (fi *FileInfo) Type() fs.FileMode          { return fi.Mode().Type() }
func (fi *FileInfo) Info() (fs.FileInfo, error) { return fi, nil }

// dial opens a sync-mode connection, arranging for it to be closed when ctx
// is cancelled and for the ctx deadline to bound every read and write.
func (c *Client) dial(ctx context.Context) (net.Conn, func(), error) {
	conn, err := adb.Sync(ctx, c.Server)
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close() // interrupt any in-flight read or write
	})
	cleanup := func() {
		stop()
		conn.Close()
	}
	return conn, cleanup, nil
}

// Stat stats a path on the device, following symlinks. A mode of zero in the
// reply means the path does not exist and is reported as [fs.ErrNotExist].
func (c *Client) Stat(ctx context.Context, path string) (*FileInfo, error) {
	if err := validateRemotePath(path); err != nil {
		return nil, err
	}
	conn, cleanup, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := syncproto.SyncRequest(conn, syncproto.Packet_LSTAT_V1, path); err != nil {
		return nil, err
	}
	st, err := syncproto.SyncResponseObject[syncproto.SyncStat1](conn, syncproto.Packet_LSTAT_V1)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st == nil || st.Mode == 0 {
		return nil, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	}
	return &FileInfo{
		name:  path,
		mode:  st.Mode,
		size:  uint64(st.Size),
		mtime: time.Unix(int64(st.Mtime), 0),
	}, nil
}

// List lists the entries of a directory on the device, excluding "." and
// "..". The entries are not recursive and are returned in the order the
// device sends them.
func (c *Client) List(ctx context.Context, dir string) ([]*FileInfo, error) {
	if err := validateRemotePath(dir); err != nil {
		return nil, err
	}
	conn, cleanup, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := syncproto.SyncRequest(conn, syncproto.Packet_LIST_V1, dir); err != nil {
		return nil, err
	}
	var entries []*FileInfo
	for {
		dent, err := syncproto.SyncResponseObject[syncproto.SyncDent1](conn, syncproto.Packet_DENT_V1)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		if dent == nil {
			return entries, nil // DONE
		}
		name := make([]byte, dent.Namelen)
		if _, err := io.ReadFull(conn, name); err != nil {
			return nil, fmt.Errorf("list %s: read entry name: %w", dir, err)
		}
		if n := string(name); n != "." && n != ".." {
			entries = append(entries, &FileInfo{
				name:  n,
				mode:  dent.Mode,
				size:  uint64(dent.Size),
				mtime: time.Unix(int64(dent.Mtime), 0),
			})
		}
	}
}

// Send writes the contents of r to path on the device with the provided
// permission bits, stamping it with mtime. An empty r still results in a
// valid empty file (DONE without any DATA frames). Progress may be nil.
func (c *Client) Send(ctx context.Context, path string, mode uint32, mtime time.Time, r io.Reader, progress ProgressFunc) error {
	if err := validateRemotePath(path); err != nil {
		return err
	}
	conn, cleanup, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	method := c.CompressionConfig.compressNegotiate(c.Server)
	if method == compressionMethodNone {
		err = syncproto.SyncRequest(conn, syncproto.Packet_SEND_V1, path+","+strconv.FormatUint(uint64(mode), 10))
	} else {
		if err = syncproto.SyncRequest(conn, syncproto.Packet_SEND_V2, path); err == nil {
			err = syncproto.SyncRequestObject(conn, syncproto.Packet_SEND_V2, syncproto.SyncSend2{
				Mode:  mode,
				Flags: method.syncFlag(),
			})
		}
	}
	if err != nil {
		return err
	}

	dw := syncproto.SyncDataWriter(conn, mtime.Unix())
	w := io.Writer(dw)
	var cc io.WriteCloser
	if method != compressionMethodNone {
		if cc, err = c.CompressionConfig.compress(method, dw); err != nil {
			return fmt.Errorf("send %s: %w", path, err)
		}
		w = cc
	}

	meter := progressMeter{fn: progress, chunk: syncproto.SendDataMax}
	buf := make([]byte, syncproto.SendDataMax)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("send %s: %w", path, werr)
			}
			meter.add(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("send %s: read source: %w", path, rerr)
		}
	}
	if cc != nil {
		if err := cc.Close(); err != nil {
			return fmt.Errorf("send %s: %w", path, err)
		}
	}
	if err := dw.Close(); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	if err := syncproto.SyncResponse(conn); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	meter.finish()
	return nil
}

// Recv copies the contents of path on the device to w. Progress may be nil.
func (c *Client) Recv(ctx context.Context, path string, w io.Writer, progress ProgressFunc) error {
	if err := validateRemotePath(path); err != nil {
		return err
	}
	conn, cleanup, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	method := c.CompressionConfig.decompressNegotiate(c.Server)
	if method == compressionMethodNone {
		err = syncproto.SyncRequest(conn, syncproto.Packet_RECV_V1, path)
	} else {
		if err = syncproto.SyncRequest(conn, syncproto.Packet_RECV_V2, path); err == nil {
			err = syncproto.SyncRequestObject(conn, syncproto.Packet_RECV_V2, syncproto.SyncRecv2{
				Flags: method.syncFlag(),
			})
		}
	}
	if err != nil {
		return err
	}

	r := syncproto.SyncDataReader(conn)
	if method != compressionMethodNone {
		cr, err := c.CompressionConfig.decompress(method, r)
		if err != nil {
			return fmt.Errorf("recv %s: %w", path, err)
		}
		defer cr.Close()
		r = cr
	}

	meter := progressMeter{fn: progress, chunk: syncproto.RecvDataMax}
	buf := make([]byte, syncproto.RecvDataMax)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("recv %s: write destination: %w", path, werr)
			}
			meter.add(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("recv %s: %w", path, rerr)
		}
	}
	meter.finish()
	return nil
}
