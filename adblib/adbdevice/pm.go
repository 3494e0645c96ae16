package adbdevice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetherkit/tetherkit/adblib/adbexec"
	"github.com/tetherkit/tetherkit/adblib/adbsync"
)

// InstallOptions tune [Device.InstallPackage].
type InstallOptions struct {
	// Reinstall keeps the app's data when the package is already installed
	// (pm install -r).
	Reinstall bool

	// GrantPermissions grants all runtime permissions at install time
	// (pm install -g).
	GrantPermissions bool
}

// InstallPackage installs the APK at localPath. The APK is pushed to
// /data/local/tmp, installed with pm, and removed again.
func (d *Device) InstallPackage(ctx context.Context, localPath string, opts InstallOptions) error {
	return d.InstallPackageWithProgress(ctx, localPath, opts, nil)
}

// InstallPackageWithProgress is [Device.InstallPackage] with a progress
// callback for the push phase.
func (d *Device) InstallPackageWithProgress(ctx context.Context, localPath string, opts InstallOptions, progress adbsync.ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	remote := stagingName() + filepath.Ext(localPath)
	if err := d.syncClient().Send(ctx, remote, defaultFileMode, time.Now(), f, progress); err != nil {
		return deviceErr(err)
	}
	defer d.cleanupStaged(ctx, remote)

	var flags string
	if opts.Reinstall {
		flags += " -r"
	}
	if opts.GrantPermissions {
		flags += " -g"
	}
	out, err := d.ShellCommand(ctx, "pm install"+flags+" "+adbexec.Quote(remote))
	if err != nil {
		return err
	}
	return pmResult(out)
}

// UninstallPackage uninstalls pkg from the device.
func (d *Device) UninstallPackage(ctx context.Context, pkg string) error {
	out, err := d.ShellCommand(ctx, "pm uninstall "+adbexec.Quote(pkg))
	if err != nil {
		return err
	}
	return pmResult(out)
}

// ClearAppData clears the data of pkg, as if freshly installed.
func (d *Device) ClearAppData(ctx context.Context, pkg string) error {
	out, err := d.ShellCommand(ctx, "pm clear "+adbexec.Quote(pkg))
	if err != nil {
		return err
	}
	return pmResult(out)
}

// pmResult interprets pm's output, which reports failures on stdout with a
// zero exit status.
func pmResult(out string) error {
	for line := range strings.Lines(out) {
		if strings.HasPrefix(strings.TrimSpace(line), "Success") {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPackageManager, strings.TrimSpace(out))
}

// ListPackages returns the package names installed on the device. With
// thirdPartyOnly, preinstalled system packages are excluded.
func (d *Device) ListPackages(ctx context.Context, thirdPartyOnly bool) ([]string, error) {
	cmd := "pm list packages"
	if thirdPartyOnly {
		cmd += " -3"
	}
	out, err := d.ShellCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for line := range strings.Lines(out) {
		if pkg, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, nil
}

// IsAppInstalled reports whether pkg is installed on the device.
func (d *Device) IsAppInstalled(ctx context.Context, pkg string) (bool, error) {
	out, err := d.ShellCommand(ctx, "pm list packages "+adbexec.Quote(pkg))
	if err != nil {
		return false, err
	}
	for line := range strings.Lines(out) {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true, nil
		}
	}
	return false, nil
}

// LaunchOptions tune [Device.Launch].
type LaunchOptions struct {
	// Activity is the activity to start. Empty launches the component
	// resolved by the launcher intent.
	Activity string

	// Wait blocks until the activity's first frame (am start -W).
	Wait bool

	// ForceStop stops the app first if it is already running (am start -S).
	ForceStop bool

	// Extras are passed to the intent as string extras (am start --es).
	Extras map[string]string
}

// Launch starts an activity of pkg via the activity manager. When no
// activity is given, the launcher intent is dispatched with monkey instead,
// since am needs a fully qualified component.
func (d *Device) Launch(ctx context.Context, pkg string, opts LaunchOptions) error {
	if opts.Activity == "" {
		out, err := d.ShellCommand(ctx, "monkey -p "+adbexec.Quote(pkg)+" -c android.intent.category.LAUNCHER 1")
		if err != nil {
			return err
		}
		if strings.Contains(out, "No activities found") || strings.Contains(out, "Error:") {
			return fmt.Errorf("%w: %s", ErrPackageManager, strings.TrimSpace(out))
		}
		return nil
	}
	var b strings.Builder
	b.WriteString("am start")
	if opts.Wait {
		b.WriteString(" -W")
	}
	if opts.ForceStop {
		b.WriteString(" -S")
	}
	b.WriteString(" -a android.intent.action.MAIN -c android.intent.category.LAUNCHER")
	for k, v := range opts.Extras {
		b.WriteString(" --es " + adbexec.Quote(k) + " " + adbexec.Quote(v))
	}
	b.WriteString(" -n " + adbexec.Quote(pkg+"/"+opts.Activity))

	out, err := d.ShellCommand(ctx, b.String())
	if err != nil {
		return err
	}
	if strings.Contains(out, "Error:") {
		return fmt.Errorf("%w: %s", ErrPackageManager, strings.TrimSpace(out))
	}
	return nil
}

// ForceStop stops every process of pkg.
func (d *Device) ForceStop(ctx context.Context, pkg string) error {
	_, err := d.ShellCommand(ctx, "am force-stop "+adbexec.Quote(pkg))
	return err
}
