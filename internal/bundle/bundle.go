// Package bundle packs the artifacts of experiment runs into one zip file.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/version"
)

// Sources lists the locations collected into a bundle. Missing locations
// are skipped.
type Sources struct {
	LogDir      string
	CaptureDir  string
	ManifestDir string
	ConfigFile  string
}

// DefaultName returns "traffic-lab-<YYYYMMDD-HHMMSS>.zip" for t.
func DefaultName(t time.Time) string {
	return "traffic-lab-" + t.Format("20060102-150405") + ".zip"
}

// Collect writes zipName containing the logs, capture files, manifests and
// config of src plus version.txt and system-info.txt.
func Collect(zipName string, src Sources) (err error) {
	zipFile, err := os.Create(zipName)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer func() {
		if cerr := zipFile.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(zipFile)
	self, _ := filepath.Abs(zipName)

	for _, d := range []struct{ dir, prefix string }{
		{src.LogDir, "logs"},
		{src.CaptureDir, "captures"},
		{src.ManifestDir, "manifests"},
	} {
		if d.dir == "" {
			continue
		}
		if err := addDir(zw, d.dir, d.prefix, self); err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", d.dir, err)
		}
	}
	if src.ConfigFile != "" {
		if _, statErr := os.Stat(src.ConfigFile); statErr == nil {
			if err := addFile(zw, src.ConfigFile, filepath.Base(src.ConfigFile)); err != nil {
				zw.Close()
				return fmt.Errorf("add config: %w", err)
			}
		}
	}
	if err := addString(zw, "version.txt", version.Version+"\n"); err != nil {
		zw.Close()
		return err
	}
	if err := addString(zw, "system-info.txt", systemInfo()); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// addDir adds every regular file below dir under prefix. A missing dir is
// not an error.
func addDir(zw *zip.Writer, dir, prefix, skip string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == skip {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, prefix+"/"+filepath.ToSlash(rel))
	})
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func addString(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, content)
	return err
}

func systemInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OS: %s\nArch: %s\nGo version: %s\nNumCPU: %d\n",
		runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU())
	if hn, err := os.Hostname(); err == nil {
		fmt.Fprintf(&b, "Hostname: %s\n", hn)
	}
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			fmt.Fprintf(&b, "Kernel: %s\n", strings.TrimSpace(string(data)))
		}
	}
	return b.String()
}
