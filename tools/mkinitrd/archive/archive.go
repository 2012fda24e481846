// Package archive walks a directory tree and packs every regular file it
// finds into a USTAR archive, the same format kernel/initrd reads at boot.
// Directory entries and symlinks are skipped: the kernel's reader only ever
// resolves files by full path, so there is nothing for a directory header
// to do at boot time.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Pack walks each of roots, strips stripPrefix from every member name, and
// writes the resulting USTAR archive to outputPath.
func Pack(outputPath, stripPrefix string, roots []string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("mkinitrd: create %s: %w", outputPath, err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	for _, root := range roots {
		if err := addTree(tw, root, stripPrefix); err != nil {
			tw.Close()
			return err
		}
	}
	return tw.Close()
}

func addTree(tw *tar.Writer, root, stripPrefix string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		return addFile(tw, path, stripPrefix)
	})
}

func addFile(tw *tar.Writer, path, stripPrefix string) error {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return fmt.Errorf("mkinitrd: stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mkinitrd: open %s: %w", path, err)
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:     memberName(path, stripPrefix),
		Mode:     int64(stat.Mode & 0777),
		Size:     int64(stat.Size),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("mkinitrd: write header for %s: %w", path, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("mkinitrd: write contents of %s: %w", path, err)
	}
	return nil
}

// memberName strips stripPrefix (if set) and any leading path separators
// from path, matching the relative names kernel/initrd.GetFileByName looks
// files up by (e.g. "boot/redshift.map").
func memberName(path, stripPrefix string) string {
	name := path
	if stripPrefix != "" {
		if rel, err := filepath.Rel(stripPrefix, path); err == nil {
			name = rel
		}
	}
	return strings.TrimLeft(filepath.ToSlash(name), "/")
}
