// Package pak reads Quake PACK archives, the container the compiler
// searches for material definitions and textures.
package pak

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const (
	pakMagic     = "PACK"
	headerSize   = 12
	entrySize    = 64
	maxEntryName = 56
)

// Archive errors.
var (
	ErrInvalidMagic = errors.New("invalid pak magic: expected 'PACK'")
	ErrTruncated    = errors.New("truncated pak directory")
	ErrNotFound     = errors.New("file not found in pak")
)

// Header is the fixed pak file header.
type Header struct {
	Magic     [4]byte
	DirOffset int32
	DirLength int32
}

// Entry is one directory record.
type Entry struct {
	Name   string
	Offset int64
	Size   int64
}

// Archive is an opened pak file.
type Archive struct {
	file    io.ReaderAt
	closer  io.Closer
	name    string
	entries map[string]*Entry
}

// Open opens a pak archive for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}
	a, err := NewReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}
	a.closer = file
	a.name = path
	return a, nil
}

// NewReader reads a pak archive held by r.
func NewReader(r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{file: r, entries: make(map[string]*Entry)}
	if err := a.readDirectory(size); err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return a, nil
}

// Close closes the underlying file.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// String returns the archive path.
func (a *Archive) String() string {
	return a.name
}

func (a *Archive) readDirectory(size int64) error {
	var h Header
	if err := binary.Read(io.NewSectionReader(a.file, 0, headerSize), binary.LittleEndian, &h); err != nil {
		return ErrTruncated
	}
	if string(h.Magic[:]) != pakMagic {
		return ErrInvalidMagic
	}
	if h.DirOffset < 0 || h.DirLength < 0 || int64(h.DirOffset)+int64(h.DirLength) > size {
		return ErrTruncated
	}

	dir := io.NewSectionReader(a.file, int64(h.DirOffset), int64(h.DirLength))
	for i := 0; i < int(h.DirLength)/entrySize; i++ {
		var raw struct {
			Name   [maxEntryName]byte
			Offset int32
			Size   int32
		}
		if err := binary.Read(dir, binary.LittleEndian, &raw); err != nil {
			return ErrTruncated
		}
		n := bytes.IndexByte(raw.Name[:], 0)
		if n < 0 {
			n = maxEntryName
		}
		e := &Entry{
			Name:   string(raw.Name[:n]),
			Offset: int64(raw.Offset),
			Size:   int64(raw.Size),
		}
		if e.Offset < 0 || e.Size < 0 || e.Offset+e.Size > size {
			return fmt.Errorf("entry %q out of range: %w", e.Name, ErrTruncated)
		}
		// later entries replace earlier ones with the same name
		a.entries[normalizePath(e.Name)] = e
	}
	return nil
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.entries))
	for path := range a.entries {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.entries[normalizePath(path)]
	return ok
}

// Read returns the contents of a file.
func (a *Archive) Read(path string) ([]byte, error) {
	e, ok := a.entries[normalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	data := make([]byte, e.Size)
	if _, err := a.file.ReadAt(data, e.Offset); err != nil && !(errors.Is(err, io.EOF) && e.Size == 0) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.ToLower(path)
}

// Build encodes files into a pak archive. Names are written in sorted
// order.
func Build(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	buf.Write(make([]byte, headerSize))
	offsets := make([]int32, len(names))
	for i, name := range names {
		offsets[i] = int32(buf.Len())
		buf.Write(files[name])
	}
	dirOffset := int32(buf.Len())
	for i, name := range names {
		var raw [maxEntryName]byte
		copy(raw[:maxEntryName-1], name)
		buf.Write(raw[:])
		binary.Write(buf, binary.LittleEndian, offsets[i])
		binary.Write(buf, binary.LittleEndian, int32(len(files[name])))
	}

	out := buf.Bytes()
	copy(out[0:4], pakMagic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(dirOffset))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(names)*entrySize))
	return out
}
