package devserver

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// errUnsafeZipEntry marks an archive entry that would escape the extraction
// root. The whole extraction is abandoned when one is seen.
var errUnsafeZipEntry = errors.New("unsafe zip entry")

func sanitizeEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path %q", errUnsafeZipEntry, name)
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: traversal in %q", errUnsafeZipEntry, name)
	}
	if filepath.IsAbs(cleaned) || strings.Contains(cleaned, ":") {
		return "", fmt.Errorf("%w: absolute path %q", errUnsafeZipEntry, name)
	}
	return cleaned, nil
}

// extractZip unpacks archive into dest, rejecting any entry whose normalized
// path is absolute or climbs out of dest. Every entry is validated before a
// single byte lands on disk, so a poisoned archive leaves nothing behind.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	names := make([]string, len(r.File))
	for i, f := range r.File {
		name, err := sanitizeEntryName(f.Name)
		if err != nil {
			return err
		}
		names[i] = name
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating extraction root: %w", err)
	}
	for i, f := range r.File {
		target := filepath.Join(dest, filepath.FromSlash(names[i]))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %q: %w", names[i], err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %q: %w", names[i], err)
		}
	}
	return nil
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

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// moveFile renames src to dst, falling back to copy+remove when the rename
// crosses filesystems (tmpRoot and uploadRoot may be separate mounts).
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying package: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
