package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumFile = ".checksums"

// ChecksumManifest is the on-disk form of .checksums.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint hashes the contents of paths, in order, into one blake3:<hex> value.
func Fingerprint(paths []string) (string, error) {
	h := blake3.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", filepath.Base(p), err)
		}
		_, _ = h.Write([]byte(filepath.Base(p)))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksums records the current hash of each file in files into
// <dir of first file>/.checksums. Paths are stored relative to that directory.
func WriteChecksums(files []string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to lock")
	}
	dir := filepath.Dir(files[0])

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return "", fmt.Errorf("relative path for %s: %w", f, err)
		}
		hash, err := ComputeBlake3Hash(f)
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		manifest.Hashes[rel] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}
	path := filepath.Join(dir, checksumFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return path, nil
}

// verifyChecksums checks files against .checksums next to the root file.
// A missing manifest disables verification.
func verifyChecksums(files []string) error {
	if len(files) == 0 {
		return nil
	}
	dir := filepath.Dir(files[0])

	data, err := os.ReadFile(filepath.Join(dir, checksumFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", f, err)
		}
		expected, ok := manifest.Hashes[rel]
		if !ok {
			return fmt.Errorf("config file %s has no hash in %s\n"+
				"Run: redispatch config lock --config %s", rel, checksumFile, files[0])
		}
		actual, err := ComputeBlake3Hash(f)
		if err != nil {
			return err
		}
		if actual != expected {
			return fmt.Errorf("config verification failed for %s: hash mismatch\n"+
				"If you edited this file intentionally, run: redispatch config lock --config %s", rel, files[0])
		}
	}
	return nil
}
