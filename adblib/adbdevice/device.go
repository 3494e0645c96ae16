package adbdevice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/adb/adbhost"
	"github.com/tetherkit/tetherkit/adblib/adbexec"
	"github.com/tetherkit/tetherkit/adblib/adbnet"
	"github.com/tetherkit/tetherkit/adblib/adbsync"
)

// AndroidStorage selects which filesystem root a relative device path
// resolves against.
type AndroidStorage int

const (
	// StorageSdcard resolves against /sdcard (shared storage).
	StorageSdcard AndroidStorage = iota

	// StorageInternal resolves against /data/local/tmp.
	StorageInternal

	// StorageApp resolves against the app-private data directory of
	// [Device.RunAsPackage]. It requires RunAsPackage to be set; accessing
	// the directory goes through run-as staging.
	StorageApp
)

func (s AndroidStorage) String() string {
	switch s {
	case StorageApp:
		return "app"
	case StorageInternal:
		return "internal"
	case StorageSdcard:
		return "sdcard"
	}
	return fmt.Sprintf("AndroidStorage(%d)", int(s))
}

// ParseAndroidStorage parses "app", "internal", "sdcard", or "auto" (which
// maps to sdcard).
func ParseAndroidStorage(s string) (AndroidStorage, error) {
	switch s {
	case "app":
		return StorageApp, nil
	case "internal":
		return StorageInternal, nil
	case "sdcard", "auto", "":
		return StorageSdcard, nil
	}
	return 0, fmt.Errorf("invalid storage %q", s)
}

// stagingDir is the world-writable directory used to stage run-as transfers.
const stagingDir = "/data/local/tmp"

// Device identifies one target attached to a [Host] and is the entry point
// for all device-scoped operations. It does not own a persistent connection;
// each operation opens a fresh one and closes it on completion.
type Device struct {
	Host      *Host
	Serial    string
	Transport adbhost.TransportID

	// RunAsPackage, when set, opts subsequent [StorageApp] operations into
	// run-as elevation. It may be set after construction.
	RunAsPackage string

	// Storage is the root relative device paths resolve against.
	Storage AndroidStorage

	dialer *adbhost.TransportDialer
}

// NewDevice returns a device handle for the given serial. The serial is not
// checked against the server until the first operation.
func NewDevice(host *Host, serial string) *Device {
	d := &Device{Host: host, Serial: serial}
	d.init()
	return d
}

func (d *Device) init() {
	var t adbhost.Transport
	if d.Transport != 0 {
		t = d.Transport
	} else {
		t = adbhost.Serial(d.Serial)
	}
	d.dialer = adbhost.Server(d.Host.dialer(), t)
}

// Server returns the [adb.Dialer] which binds each new connection to this
// device.
func (d *Device) Server() adb.Dialer {
	return d.dialer
}

// LoadFeatures fetches the optional features supported by the device, which
// enables compressed sync transfers where available. It is never required.
func (d *Device) LoadFeatures(ctx context.Context) error {
	return deviceErr(d.dialer.LoadFeatures(ctx))
}

func (d *Device) syncClient() *adbsync.Client {
	return &adbsync.Client{Server: d.dialer}
}

// ResolvePath resolves path against the device's storage root. Absolute paths
// are passed through. A relative path against [StorageApp] fails with
// [ErrMissingPackage] when no RunAsPackage is configured; the check happens
// before any wire activity.
func (d *Device) ResolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		return path, nil
	}
	var root string
	switch d.Storage {
	case StorageApp:
		if d.RunAsPackage == "" {
			return "", ErrMissingPackage
		}
		root = "/data/data/" + d.RunAsPackage
	case StorageInternal:
		root = stagingDir
	case StorageSdcard:
		root = "/sdcard"
	default:
		return "", fmt.Errorf("invalid storage %v", d.Storage)
	}
	if path == "" {
		return root, nil
	}
	return root + "/" + path, nil
}

// needsRunAs reports whether path is inside the app-private directory of the
// configured run-as package.
func (d *Device) needsRunAs(path string) bool {
	if d.RunAsPackage == "" {
		return false
	}
	prefix := "/data/data/" + d.RunAsPackage
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// ShellCommand runs command via the legacy shell protocol and returns its
// output decoded as UTF-8 with CRLF normalized to LF. The command is passed
// to /system/bin/sh -c verbatim; use [adbexec.Quote] for arguments.
func (d *Device) ShellCommand(ctx context.Context, command string) (string, error) {
	out, err := adbexec.Text(ctx, d.dialer, command)
	return out, deviceErr(err)
}

// ExecOut runs command via the exec protocol (raw mode) and returns its
// merged output bytes.
func (d *Device) ExecOut(ctx context.Context, command string) ([]byte, error) {
	out, err := adbexec.Output(ctx, d.dialer, command, nil)
	return out, deviceErr(err)
}

// RunCommand runs command via the shell v2 protocol, returning separated
// stdout/stderr and the exit code. It fails with an error matching
// [adb.ErrFeatureNotSupported] on devices without shell v2; call
// [Device.LoadFeatures] first so support can be detected.
func (d *Device) RunCommand(ctx context.Context, command string, input io.Reader) (*adbexec.Result, error) {
	res, err := adbexec.Run(ctx, d.dialer, command, input)
	return res, deviceErr(err)
}

// Dial connects to a socket on the device. See [adbnet.Service] for the
// supported networks and address forms.
func (d *Device) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := adbnet.Dialer{Server: d.dialer}
	conn, err := nd.DialContext(ctx, network, address)
	return conn, deviceErr(err)
}

// shellCommandAs runs command, wrapped in run-as for the configured package
// when elevate is set.
func (d *Device) shellCommandAs(ctx context.Context, command string, elevate bool) (string, error) {
	if elevate {
		if d.RunAsPackage == "" {
			return "", ErrMissingPackage
		}
		command = "run-as " + adbexec.Quote(d.RunAsPackage) + " sh -c " + adbexec.Quote(command)
	}
	return d.ShellCommand(ctx, command)
}

// Stat stats a path on the device. The path is resolved against the storage
// root; symlink handling follows the device's stat semantics. Directories are
// detected from the type bits of the reported mode.
func (d *Device) Stat(ctx context.Context, path string) (*adbsync.FileInfo, error) {
	path, err := d.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	fi, err := d.syncClient().Stat(ctx, path)
	return fi, deviceErr(err)
}

// List lists the entries of a directory on the device, excluding "." and
// "..".
func (d *Device) List(ctx context.Context, dir string) ([]*adbsync.FileInfo, error) {
	dir, err := d.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := d.syncClient().List(ctx, dir)
	return entries, deviceErr(err)
}

// PathExists reports whether path exists on the device, using the shell so
// that run-as-protected paths can be checked too.
func (d *Device) PathExists(ctx context.Context, path string, elevate bool) (bool, error) {
	out, err := d.shellCommandAs(ctx, "ls "+adbexec.Quote(path), elevate)
	if err != nil {
		return false, err
	}
	return !strings.Contains(out, "No such file or directory"), nil
}

// CreateDir creates path and any missing ancestors on the device.
func (d *Device) CreateDir(ctx context.Context, path string) error {
	path, err := d.ResolvePath(path)
	if err != nil {
		return err
	}
	slog.Debug("creating device directory", "serial", d.Serial, "path", path)
	_, err = d.shellCommandAs(ctx, "mkdir -p "+adbexec.Quote(path), d.needsRunAs(path))
	return err
}

// Chmod changes the permissions of path on the device.
func (d *Device) Chmod(ctx context.Context, path, mask string, recursive bool) error {
	path, err := d.ResolvePath(path)
	if err != nil {
		return err
	}
	var flags string
	if recursive {
		flags = "-R "
	}
	_, err = d.shellCommandAs(ctx, "chmod "+flags+mask+" "+adbexec.Quote(path), d.needsRunAs(path))
	return err
}

// Remove removes path on the device, recursively.
func (d *Device) Remove(ctx context.Context, path string) error {
	path, err := d.ResolvePath(path)
	if err != nil {
		return err
	}
	slog.Debug("removing device path", "serial", d.Serial, "path", path)
	_, err = d.shellCommandAs(ctx, "rm -rf "+adbexec.Quote(path), d.needsRunAs(path))
	return err
}

// TCPIP restarts the device's adbd listening on TCP.
func (d *Device) TCPIP(ctx context.Context, port uint16) error {
	return d.restartService(ctx, fmt.Sprintf("tcpip:%d", port))
}

// USB restarts the device's adbd listening on USB.
func (d *Device) USB(ctx context.Context) error {
	return d.restartService(ctx, "usb:")
}

func (d *Device) restartService(ctx context.Context, svc string) error {
	conn, err := d.dialer.DialADB(ctx, svc)
	if err != nil {
		return deviceErr(err)
	}
	defer conn.Close()
	// adbd prints a restart notice and closes the stream; drain it.
	_, err = io.Copy(io.Discard, conn)
	return deviceErr(err)
}
