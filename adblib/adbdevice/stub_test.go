package adbdevice

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tetherkit/tetherkit/adb/adbproto"
	"github.com/tetherkit/tetherkit/adb/adbproto/shellproto2"
	"github.com/tetherkit/tetherkit/adb/adbproto/syncproto"
)

// stubADB emulates enough of an ADB host server plus one attached device to
// exercise the high-level operations: device listing, transport binding,
// shell commands against an in-memory file tree, and the sync protocol.
type stubADB struct {
	t      *testing.T
	serial string

	mu       sync.Mutex
	serials  []string // advertised device list, primary serial first
	files    map[string][]byte
	commands []string // every shell/exec command, in order

	// injected failures, as the output of the matching shell command
	failCopy   string
	failRemove string
	failSend   string // sync SEND replies FAIL with this message

	// extra shell commands (e.g. pm) answered verbatim
	shell map[string]string

	features string
}

func newStubADB(t *testing.T, serial string) (*stubADB, *Host) {
	s := &stubADB{t: t, serial: serial, serials: []string{serial}, files: make(map[string][]byte), shell: make(map[string]string)}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s, &Host{Addr: ln.Addr().String()}
}

func (s *stubADB) setSerials(serials ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials = serials
}

func (s *stubADB) deviceSerials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.serials...)
}

func (s *stubADB) logCommand(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *stubADB) commandLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *stubADB) file(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return b, ok
}

func (s *stubADB) putFile(path string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = b
}

func (s *stubADB) stagedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var staged []string
	for p := range s.files {
		if strings.HasPrefix(p, stagingDir+"/tmp_") {
			staged = append(staged, p)
		}
	}
	sort.Strings(staged)
	return staged
}

func okay(conn net.Conn) {
	conn.Write([]byte("OKAY"))
}

func hexMsg(msg string) string {
	return fmt.Sprintf("%04x%s", len(msg), msg)
}

func (s *stubADB) serve(conn net.Conn) {
	defer conn.Close()
	svc, err := adbproto.ReadProtocolString(conn)
	if err != nil {
		return
	}
	switch {
	case svc == "host:devices-l" || svc == "host:devices":
		okay(conn)
		var list strings.Builder
		for _, serial := range s.deviceSerials() {
			list.WriteString(serial + "\tdevice product:stub model:stub device:stub transport_id:1\n")
		}
		conn.Write([]byte(hexMsg(list.String())))
	case svc == "host-serial:"+s.serial+":features":
		okay(conn)
		conn.Write([]byte(hexMsg(s.features)))
	case strings.HasPrefix(svc, "host-serial:"+s.serial+":forward:"):
		okay(conn) // the request was accepted
		okay(conn) // the forward is established
		if strings.Contains(svc, "forward:tcp:0;") {
			conn.Write([]byte(hexMsg("16023")))
		}
	case strings.HasPrefix(svc, "host-serial:"+s.serial+":killforward"):
		okay(conn)
		okay(conn)
	case svc == "host:transport:"+s.serial, svc == "host:transport-id:1":
		okay(conn)
		s.serveTransport(conn)
	default:
		conn.Write([]byte("FAIL" + hexMsg("unknown service "+svc)))
	}
}

func (s *stubADB) serveTransport(conn net.Conn) {
	svc, err := adbproto.ReadProtocolString(conn)
	if err != nil {
		return
	}
	switch {
	case strings.HasPrefix(svc, "shell:"), strings.HasPrefix(svc, "exec:"):
		_, cmd, _ := strings.Cut(svc, ":")
		s.logCommand(cmd)
		okay(conn)
		conn.Write([]byte(s.runShell(cmd)))
	case svc == "sync:":
		okay(conn)
		s.serveSync(conn)
	case strings.HasPrefix(svc, "shell,v2,raw:"):
		cmd := strings.TrimPrefix(svc, "shell,v2,raw:")
		s.logCommand(cmd)
		okay(conn)
		s.serveShell2(conn, cmd)
	case strings.HasPrefix(svc, "tcp:"), strings.HasPrefix(svc, "localabstract:"):
		okay(conn)
		io.Copy(conn, conn) // echo
	case strings.HasPrefix(svc, "reverse:"):
		okay(conn) // accepted
		okay(conn) // established by adbd
	default:
		conn.Write([]byte("FAIL" + hexMsg("unknown device service "+svc)))
	}
}

// serveShell2 answers a shell v2 session: stdin is drained, the command's
// output goes to stdout, and the exit code is zero unless the output looks
// like an error.
func (s *stubADB) serveShell2(conn net.Conn, cmd string) {
	for {
		id, payload, err := shellproto2.ReadPacket(conn)
		if err != nil {
			return
		}
		if _, err := io.Copy(io.Discard, payload); err != nil {
			return
		}
		if id == shellproto2.PacketCloseStdin {
			break
		}
	}
	out := s.runShell(cmd)
	var code byte
	if out != "" {
		shellproto2.WritePacket(conn, shellproto2.PacketStdout, []byte(out))
	}
	if strings.Contains(out, "No such file") {
		code = 1
	}
	shellproto2.WritePacket(conn, shellproto2.PacketExit, []byte{code})
}

// runShell interprets the commands the device layer issues, against the
// in-memory file tree. Unknown commands come from the extra shell map.
func (s *stubADB) runShell(cmd string) string {
	inner := cmd
	if rest, ok := strings.CutPrefix(cmd, "run-as "); ok {
		// run-as <pkg> sh -c '<inner>'
		_, quoted, ok := strings.Cut(rest, " sh -c ")
		if !ok {
			return "run-as: bad invocation"
		}
		inner = strings.Trim(quoted, "'")
	}
	args := strings.Fields(inner)
	switch {
	case len(args) == 4 && args[0] == "cp" && args[1] == "-aR":
		if s.failCopy != "" {
			return s.failCopy
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if b, ok := s.files[args[2]]; ok {
			s.files[args[3]] = b
			return ""
		}
		return "cp: " + args[2] + ": No such file or directory"
	case len(args) == 3 && args[0] == "rm" && args[1] == "-f":
		if s.failRemove != "" {
			return s.failRemove
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.files, args[2])
		return ""
	case len(args) > 0 && (args[0] == "chmod" || args[0] == "mkdir"):
		return ""
	case len(args) > 1 && args[0] == "ls":
		path := args[len(args)-1]
		if _, ok := s.file(path); ok || s.isDir(path) {
			return path + "\n"
		}
		return "ls: " + path + ": No such file or directory\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.shell[inner]; ok {
		return out
	}
	for pattern, out := range s.shell {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(inner, prefix) {
			return out
		}
	}
	s.t.Errorf("unexpected shell command %q", cmd)
	return ""
}

func (s *stubADB) serveSync(conn net.Conn) {
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		arg := make([]byte, binary.LittleEndian.Uint32(hdr[4:8]))
		if _, err := io.ReadFull(conn, arg); err != nil {
			return
		}
		switch syncproto.PacketID(hdr[0:4]) {
		case syncproto.Packet_LSTAT_V1:
			s.syncStat(conn, string(arg))
		case syncproto.Packet_LIST_V1:
			s.syncList(conn, string(arg))
		case syncproto.Packet_SEND_V1:
			s.syncSend(conn, string(arg))
		case syncproto.Packet_RECV_V1:
			s.syncRecv(conn, string(arg))
		case syncproto.Packet_QUIT:
			return
		default:
			s.t.Errorf("unexpected sync request %q", hdr[0:4])
			return
		}
	}
}

func syncFrame(conn net.Conn, id syncproto.PacketID, arg uint32, payload []byte) {
	b := make([]byte, 8, 8+len(payload))
	copy(b[0:4], id[:])
	binary.LittleEndian.PutUint32(b[4:8], arg)
	conn.Write(append(b, payload...))
}

func syncFail(conn net.Conn, msg string) {
	syncFrame(conn, syncproto.Packet_FAIL, uint32(len(msg)), []byte(msg))
}

// isDir reports whether path has children in the tree (directories are
// implicit).
func (s *stubADB) isDir(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.files {
		if strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return path == "/"
}

func (s *stubADB) syncStat(conn net.Conn, path string) {
	var st syncproto.SyncStat1
	if b, ok := s.file(path); ok {
		st = syncproto.SyncStat1{Mode: 0o100644, Size: uint32(len(b)), Mtime: 1700000000}
	} else if s.isDir(path) {
		st = syncproto.SyncStat1{Mode: 0o40755, Mtime: 1700000000}
	}
	// a zero struct means the path does not exist
	payload := binary.LittleEndian.AppendUint32(nil, st.Size)
	payload = binary.LittleEndian.AppendUint32(payload, st.Mtime)
	syncFrame(conn, syncproto.Packet_LSTAT_V1, st.Mode, payload)
}

func (s *stubADB) syncList(conn net.Conn, dir string) {
	s.mu.Lock()
	children := make(map[string]syncproto.SyncDent1)
	for p, b := range s.files {
		if rest, ok := strings.CutPrefix(p, dir+"/"); ok {
			if name, _, nested := strings.Cut(rest, "/"); nested {
				children[name] = syncproto.SyncDent1{Mode: 0o40755, Mtime: 1700000000}
			} else {
				children[name] = syncproto.SyncDent1{Mode: 0o100644, Size: uint32(len(b)), Mtime: 1700000000}
			}
		}
	}
	s.mu.Unlock()
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := children[name]
		payload := binary.LittleEndian.AppendUint32(nil, d.Size)
		payload = binary.LittleEndian.AppendUint32(payload, d.Mtime)
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(name)))
		payload = append(payload, name...)
		syncFrame(conn, syncproto.Packet_DENT_V1, d.Mode, payload)
	}
	syncFrame(conn, syncproto.Packet_DONE, 0, make([]byte, 12))
}

func (s *stubADB) syncSend(conn net.Conn, arg string) {
	path, _, ok := strings.Cut(arg, ",")
	if !ok {
		syncFail(conn, "bad send request")
		return
	}
	var data []byte
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		size := binary.LittleEndian.Uint32(hdr[4:8])
		switch syncproto.PacketID(hdr[0:4]) {
		case syncproto.Packet_DATA:
			chunk := make([]byte, size)
			if _, err := io.ReadFull(conn, chunk); err != nil {
				return
			}
			data = append(data, chunk...)
		case syncproto.Packet_DONE:
			if s.failSend != "" {
				syncFail(conn, s.failSend)
				return
			}
			s.putFile(path, data)
			syncFrame(conn, syncproto.Packet_OKAY, 0, nil)
			return
		default:
			syncFail(conn, "unexpected frame during send")
			return
		}
	}
}

func (s *stubADB) syncRecv(conn net.Conn, path string) {
	b, ok := s.file(path)
	if !ok {
		syncFail(conn, "open failed: No such file or directory")
		return
	}
	for len(b) > 0 {
		n := min(len(b), syncproto.RecvDataMax)
		syncFrame(conn, syncproto.Packet_DATA, uint32(n), b[:n])
		b = b[n:]
	}
	syncFrame(conn, syncproto.Packet_DONE, 0, nil)
}

// grep is a test helper returning the first logged command containing sub.
func (s *stubADB) grep(sub string) (string, bool) {
	for _, c := range s.commandLog() {
		if strings.Contains(c, sub) {
			return c, true
		}
	}
	return "", false
}
