package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// forceCrossDeviceForTests makes moveFile take the copy+remove path.
var forceCrossDeviceForTests = false

// ensureDirs creates each of dirs if it does not exist.
func ensureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}
	return nil
}

// moveFile moves src into dstDir, keeping its basename, and returns the new path.
// It refuses to overwrite an existing file.
func moveFile(src, dstDir string) (string, error) {
	destPath := filepath.Join(dstDir, filepath.Base(src))

	// Check for collision at destination
	if _, err := os.Stat(destPath); err == nil {
		return "", fmt.Errorf("failed to move %s: destination file %s already exists", src, destPath)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to move %s: error checking destination %s: %w", src, destPath, err)
	}

	var err error = errCrossDevice
	if !forceCrossDeviceForTests {
		err = os.Rename(src, destPath)
	}
	if err == nil {
		return destPath, nil
	}
	if !isCrossDevice(err) {
		return "", fmt.Errorf("failed to move %s to %s: %w", src, destPath, err)
	}

	// os.Rename cannot move across filesystems; copy then remove instead.
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if err := copyFile(src, destPath, info.ModTime()); err != nil {
		return "", fmt.Errorf("failed to copy %s to %s: %w", src, destPath, err)
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("failed to remove %s after copying to %s: %w", src, destPath, err)
	}
	return destPath, nil
}

var errCrossDevice = &os.LinkError{Op: "rename", Err: syscall.EXDEV}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

// copyFile creates a copy of src file at dstFinal.
// It creates the copy first as a temporary file and then renames it to dstFinal.
func copyFile(src, dstFinal string, modTime time.Time) error {
	dstTmp := dstFinal + ".tmp"

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	// Ensure target directories exists.
	baseName := filepath.Dir(dstFinal)
	if err := os.MkdirAll(baseName, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", baseName, err)
	}

	dstTmpFile, err := os.Create(dstTmp)
	if err != nil {
		return err
	}
	defer func() {
		if dstTmpFile != nil {
			dstTmpFile.Close()
			os.Remove(dstTmp)
		}
	}()

	if _, err := io.Copy(dstTmpFile, srcFile); err != nil {
		return fmt.Errorf("failed to write file %s: %w", dstTmp, err)
	}

	if err := dstTmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close dst tmp file %s: %w", dstTmp, err)
	}
	dstTmpFile = nil

	if err := os.Chtimes(dstTmp, modTime, modTime); err != nil {
		return err
	}
	if err := os.Rename(dstTmp, dstFinal); err != nil {
		return fmt.Errorf("failed to rename %s: %w", dstTmp, err)
	}
	return nil
}
