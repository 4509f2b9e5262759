package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems lists filesystem names on which SQLite locking is unreliable.
var remoteFilesystems = map[string]struct{}{
	"nfs":   {},
	"cifs":  {},
	"smbfs": {},
	"smb2":  {},
}

type fsDetector func(path string) (string, error)

// checkLocalFilesystem rejects journal paths that live on a network mount.
func checkLocalFilesystem(path string, detect fsDetector) error {
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if _, remote := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]; remote {
		return fmt.Errorf("journal path %q is on network filesystem %q; set journal.path to a local disk", path, fsType)
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}
