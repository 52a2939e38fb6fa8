package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// maxEntrySize bounds the decompressed size of a single archive entry.
const maxEntrySize = 64 << 20

// archive is an opened zip file indexed by entry name.
type archive struct {
	files []*zip.File
	index map[string]*zip.File
}

func openArchive(content []byte) (*archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrInvalidContent, err)
	}
	a := &archive{files: zr.File, index: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.index[f.Name] = f
	}
	return a, nil
}

// under returns the non-directory entries whose name starts with prefix,
// in archive order.
func (a *archive) under(prefix string) []*zip.File {
	var out []*zip.File
	for _, f := range a.files {
		if !strings.HasPrefix(f.Name, prefix) || f.Name == prefix || f.FileInfo().IsDir() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// read returns the contents of the named entry. ok is false when the entry
// does not exist.
func (a *archive) read(name string) (data []byte, ok bool, err error) {
	f, ok := a.index[name]
	if !ok {
		return nil, false, nil
	}
	data, err = readEntry(f)
	return data, true, err
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxEntrySize)
	}
	return data, nil
}
