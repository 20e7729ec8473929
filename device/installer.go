package device

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultDriverPackURL is the VB-Cable driver pack downloaded when no local
// installer is found.
const DefaultDriverPackURL = "https://download.vb-audio.com/Download_CABLE/VBCABLE_Driver_Pack43.zip"

// InstallerName is the installer executable inside the driver pack.
const InstallerName = "VBCABLE_Setup_x64.exe"

// maxDriverPackSize caps the download; the real pack is a few MiB.
const maxDriverPackSize = 64 << 20

type installer struct {
	runner      Runner
	client      *http.Client
	bundledPath string
	url         string
	searchDir   string
	tempDir     string
}

func newInstaller(deps Dependencies) *installer {
	return &installer{
		runner:      deps.Runner,
		client:      deps.HTTPClient,
		bundledPath: deps.InstallerPath,
		url:         deps.DownloadURL,
		searchDir:   ".",
	}
}

// locate finds the installer: the configured path, then the working
// directory, then the downloaded driver pack. The returned cleanup removes
// anything that was downloaded.
func (in *installer) locate(ctx context.Context, notify func(string)) (string, func(), error) {
	noop := func() {}
	if in.bundledPath != "" && fileExists(in.bundledPath) {
		return in.bundledPath, noop, nil
	}
	local := filepath.Join(in.searchDir, InstallerName)
	if fileExists(local) {
		return local, noop, nil
	}

	dir, err := os.MkdirTemp(in.tempDir, "micbridge-vbcable-")
	if err != nil {
		return "", noop, fmt.Errorf("create download directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	notify("Downloading the VB-Cable driver pack")
	archive := filepath.Join(dir, "driver-pack.zip")
	if err := in.download(ctx, archive); err != nil {
		cleanup()
		return "", noop, err
	}
	notify("Extracting the driver pack")
	path, err := extractInstaller(archive, filepath.Join(dir, "pack"))
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return path, cleanup, nil
}

func (in *installer) download(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstallerNotFound, err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download: %v", ErrInstallerNotFound, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download returned status %d", ErrInstallerNotFound, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxDriverPackSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("save driver pack: %w", err)
	}
	if n > maxDriverPackSize {
		return fmt.Errorf("%w: driver pack larger than %d bytes", ErrInstallerNotFound, maxDriverPackSize)
	}

	logrus.WithFields(logrus.Fields{
		"function": "installer.download",
		"url":      in.url,
		"bytes":    n,
	}).Info("Driver pack downloaded")
	return nil
}

// extractInstaller unpacks the whole archive, since the installer needs its
// sibling driver files, and returns the installer path.
func extractInstaller(archive, dest string) (string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("%w: open driver pack: %v", ErrInstallerNotFound, err)
	}
	defer r.Close()

	found := ""
	for _, f := range r.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return "", fmt.Errorf("%w: illegal path %q in driver pack", ErrInstallerNotFound, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return "", err
		}
		if found == "" && strings.EqualFold(filepath.Base(target), InstallerName) {
			found = target
		}
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s missing from driver pack", ErrInstallerNotFound, InstallerName)
	}
	return found, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, io.LimitReader(src, maxDriverPackSize))
	return errors.Join(err, dst.Close())
}

// run starts the installer elevated and waits for it to exit.
func (in *installer) run(ctx context.Context, path string) error {
	quoted := strings.ReplaceAll(path, "'", "''")
	script := fmt.Sprintf("Start-Process -FilePath '%s' -ArgumentList '-i -h' -Verb RunAs -Wait", quoted)
	if _, err := run(ctx, in.runner, "powershell.exe", "-Command", script); err != nil {
		return fmt.Errorf("run installer: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "installer.run",
		"path":     path,
	}).Info("VB-Cable installer finished")
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
