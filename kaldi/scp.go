package kaldi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Record is one keyed vector read from an scp file.
type Record struct {
	Key    string
	Vector []float32
}

// ScpReader streams vectors listed in a Kaldi scp file. Each line has the
// form "<key> <path>[:<offset>]". Archives are opened on first use and kept
// open until Close.
type ScpReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	name    string
	lineNum int
	arks    map[string]*archive
}

type archive struct {
	f  *os.File
	br *bufio.Reader
}

// NewScpReader reads scp lines from r. Paths inside the scp are opened as
// given, relative to the working directory, the same way Kaldi does.
func NewScpReader(r io.Reader) *ScpReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &ScpReader{
		scanner: sc,
		name:    "scp",
		arks:    make(map[string]*archive),
	}
}

// OpenScp opens the scp file at path.
func OpenScp(path string) (*ScpReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewScpReader(f)
	r.closer = f
	r.name = path
	return r, nil
}

// Next returns the next record, or io.EOF once the scp is exhausted.
func (r *ScpReader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return Record{}, fmt.Errorf("%s line %d: expected \"<key> <rxfilename>\", got %d fields", r.name, r.lineNum, len(fields))
		}
		key, rx := fields[0], fields[1]
		vec, err := r.readAt(rx)
		if err != nil {
			return Record{}, fmt.Errorf("%s line %d: key %s: %w", r.name, r.lineNum, key, err)
		}
		return Record{Key: key, Vector: vec}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("%s: %w", r.name, err)
	}
	return Record{}, io.EOF
}

// Close releases the scp file and every archive opened so far.
func (r *ScpReader) Close() error {
	var first error
	for path, a := range r.arks {
		if err := a.f.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.arks, path)
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil && first == nil {
			first = err
		}
		r.closer = nil
	}
	return first
}

func (r *ScpReader) readAt(rx string) ([]float32, error) {
	path, offset, err := splitRxfilename(rx)
	if err != nil {
		return nil, err
	}
	a, ok := r.arks[path]
	if !ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		a = &archive{f: f, br: bufio.NewReader(f)}
		r.arks[path] = a
	}
	if _, err := a.f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s:%d: %w", path, offset, err)
	}
	a.br.Reset(a.f)
	return ReadVector(a.br)
}

// splitRxfilename splits "foo.ark:123" into path and byte offset. A missing
// offset means the object starts at the beginning of the file.
func splitRxfilename(rx string) (string, int64, error) {
	if strings.HasSuffix(rx, "|") || strings.HasPrefix(rx, "-") {
		return "", 0, fmt.Errorf("unsupported rxfilename %q (pipes and stdin are not supported)", rx)
	}
	i := strings.LastIndexByte(rx, ':')
	if i < 0 {
		return rx, 0, nil
	}
	offset, err := strconv.ParseInt(rx[i+1:], 10, 64)
	if err != nil {
		// A colon that is not followed by digits belongs to the path.
		return rx, 0, nil
	}
	if offset < 0 {
		return "", 0, fmt.Errorf("negative offset in %q", rx)
	}
	return rx[:i], offset, nil
}
