package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
	return root
}

func TestParseFormatDefaultsToTarGz(t *testing.T) {
	assert.Equal(t, FormatTarGz, ParseFormat(""))
	assert.Equal(t, FormatTarGz, ParseFormat("bogus"))
	assert.Equal(t, FormatZip, ParseFormat("zip"))
}

func TestStreamTarGzRoundTrips(t *testing.T) {
	root := writeTree(t)
	var buf bytes.Buffer
	require.NoError(t, Stream(context.Background(), &buf, root, FormatTarGz))

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	found := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			found[hdr.Name] = string(data)
		}
	}

	assert.Equal(t, "hello", found["a.txt"])
	assert.Equal(t, "world", found["sub/b.txt"])
}

func TestStreamZipRoundTrips(t *testing.T) {
	root := writeTree(t)
	var buf bytes.Buffer
	require.NoError(t, Stream(context.Background(), &buf, root, FormatZip))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	found := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		found[f.Name] = string(data)
	}

	assert.Equal(t, "hello", found["a.txt"])
	assert.Equal(t, "world", found["sub/b.txt"])
}

func TestStreamRespectsCancelledContext(t *testing.T) {
	root := writeTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := Stream(ctx, &buf, root, FormatTarGz)
	assert.Error(t, err)
}

func TestContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "application/zip", ContentType(FormatZip))
	assert.Equal(t, "application/gzip", ContentType(FormatTarGz))
	assert.Equal(t, ".zip", FileExtension(FormatZip))
	assert.Equal(t, ".tar.gz", FileExtension(FormatTarGz))
}
