package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/helpers"
)

// PreserveLogs copies every regular file under srcDir into a timestamped
// tar.gz in destDir and returns the archive path. label becomes part of the
// file name so archives from different incidents stay distinguishable.
func PreserveLogs(srcDir, destDir, label string) (string, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return "", fmt.Errorf("log directory %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("log path %s is not a directory", srcDir)
	}

	if err := os.MkdirAll(destDir, constants.ModeDirPrivate); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.tar.gz", helpers.SanitizeString(label), time.Now().UTC().Format("20060102-150405"))
	archivePath := filepath.Join(destDir, name)

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, constants.ModeFileSecret)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return addFile(tw, path, rel)
	})
	if walkErr != nil {
		tw.Close()
		gzw.Close()
		out.Close()
		os.Remove(archivePath)
		return "", fmt.Errorf("failed to archive logs: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return archivePath, nil
}

func addFile(tw *tar.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
