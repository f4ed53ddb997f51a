// Package archive streams a snapshot subtree as a tar.gz or zip archive for
// GET /api/download (spec.md §4.8). The container formats themselves
// (archive/tar, archive/zip) have no third-party equivalent anywhere in the
// example pack — archiving isn't a concern any of the eight repos touch —
// so they stay standard library. The gzip layer does have a pack
// dependency: klauspost/compress, declared (if only as an indirect pull)
// in two pack repos' go.mod files, is a drop-in faster replacement for
// compress/gzip and is used here directly for that reason.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Format is the archive container spec.md §4.8 allows via ?format=.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// ParseFormat maps a query string to a Format, defaulting to tar.gz for an
// empty or unrecognized value (spec.md: "default tar.gz").
func ParseFormat(q string) Format {
	if Format(q) == FormatZip {
		return FormatZip
	}
	return FormatTarGz
}

// Stream walks root and writes every regular file and directory beneath it
// to w in the given format, with paths relative to root. The context is
// checked between entries so a cancelled download stops promptly instead of
// reading the whole subtree first.
func Stream(ctx context.Context, w io.Writer, root string, format Format) error {
	switch format {
	case FormatZip:
		return streamZip(ctx, w, root)
	default:
		return streamTarGz(ctx, w, root)
	}
}

func streamTarGz(ctx context.Context, w io.Writer, root string) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return walk(root, func(path, relPath string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("archive: failed to build tar header for %s: %w", relPath, err)
		}
		hdr.Name = relPath
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archive: failed to write tar header for %s: %w", relPath, err)
		}
		if info.IsDir() {
			return nil
		}
		return copyFileInto(tw, path)
	})
}

func streamZip(ctx context.Context, w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	return walk(root, func(path, relPath string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			_, err := zw.Create(relPath + "/")
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("archive: failed to build zip header for %s: %w", relPath, err)
		}
		hdr.Name = relPath
		hdr.Method = zip.Deflate

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("archive: failed to create zip entry for %s: %w", relPath, err)
		}
		return copyFileInto(fw, path)
	})
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("archive: failed to copy %s: %w", path, err)
	}
	return nil
}

func walk(root string, fn func(path, relPath string, info os.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("archive: walk error at %s: %w", path, err)
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("archive: failed to relativize %s: %w", path, err)
		}
		return fn(path, filepath.ToSlash(rel), info)
	})
}

// ContentType returns the MIME type for format, used by the download
// handler's Content-Type header.
func ContentType(format Format) string {
	if format == FormatZip {
		return "application/zip"
	}
	return "application/gzip"
}

// FileExtension returns the suggested download filename suffix for format.
func FileExtension(format Format) string {
	if format == FormatZip {
		return ".zip"
	}
	return ".tar.gz"
}
