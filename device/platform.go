package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"
)

// OS identifies the operating system family.
type OS int

const (
	// OSOther is any platform without a strategy.
	OSOther OS = iota
	// OSWindows is Microsoft Windows.
	OSWindows
	// OSLinux is Linux.
	OSLinux
	// OSMacOS is Apple macOS.
	OSMacOS
)

// String returns the lowercase OS name.
func (o OS) String() string {
	switch o {
	case OSWindows:
		return "windows"
	case OSLinux:
		return "linux"
	case OSMacOS:
		return "macos"
	default:
		return "other"
	}
}

// Arch identifies the CPU architecture.
type Arch int

const (
	// ArchOther is an architecture without special handling.
	ArchOther Arch = iota
	// ArchX86_64 is 64-bit x86.
	ArchX86_64
	// ArchARM64 is 64-bit ARM.
	ArchARM64
	// ArchX86 is 32-bit x86.
	ArchX86
)

// Platform describes the host.
type Platform struct {
	OS       OS
	Arch     Arch
	Name     string // e.g. "ubuntu", "darwin", "Microsoft Windows 11 Pro"
	Version  string
	Kernel   string
	GOOS     string
	GOARCH   string
	Hostname string
}

// String renders the platform for logs.
func (p Platform) String() string {
	if p.Version == "" {
		return fmt.Sprintf("%s/%s", p.OS, p.GOARCH)
	}
	return fmt.Sprintf("%s %s (%s/%s)", p.Name, p.Version, p.OS, p.GOARCH)
}

// ParseOS maps a GOOS value to an OS.
func ParseOS(goos string) OS {
	switch strings.ToLower(goos) {
	case "windows":
		return OSWindows
	case "linux":
		return OSLinux
	case "darwin":
		return OSMacOS
	default:
		return OSOther
	}
}

// ParseArch maps a GOARCH or uname value to an Arch.
func ParseArch(arch string) Arch {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64", "x64":
		return ArchX86_64
	case "arm64", "aarch64":
		return ArchARM64
	case "386", "x86", "i386", "i486", "i586", "i686":
		return ArchX86
	default:
		return ArchOther
	}
}

// DetectPlatform identifies the running host. OS and architecture come from
// the Go runtime; the version details come from the host and are left empty
// when unavailable.
func DetectPlatform(ctx context.Context) Platform {
	p := Platform{
		OS:     ParseOS(runtime.GOOS),
		Arch:   ParseArch(runtime.GOARCH),
		GOOS:   runtime.GOOS,
		GOARCH: runtime.GOARCH,
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DetectPlatform",
			"goos":     runtime.GOOS,
			"error":    err.Error(),
		}).Warn("Host info unavailable, using runtime platform only")
		return p
	}
	p.Name = info.Platform
	p.Version = info.PlatformVersion
	p.Kernel = info.KernelVersion
	p.Hostname = info.Hostname

	logrus.WithFields(logrus.Fields{
		"function": "DetectPlatform",
		"platform": p.String(),
		"kernel":   p.Kernel,
	}).Debug("Platform detected")

	return p
}
