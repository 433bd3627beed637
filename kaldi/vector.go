// Package kaldi reads and writes Kaldi float-vector archives (ark) and the
// script (scp) files that index them.
package kaldi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"fortio.org/safecast"
)

// ErrBadHeader is returned when a vector object does not start with a
// recognised binary or text header.
var ErrBadHeader = errors.New("kaldi: bad vector header")

// binaryMarker precedes every binary-mode Kaldi object.
const binaryMarker = "\x00B"

// ReadVector decodes one vector object at the current position of r.
// Binary float (FV) and double (DV) vectors as well as the text form
// "[ v1 v2 ... ]" are supported. Double vectors are narrowed to float32.
func ReadVector(r *bufio.Reader) ([]float32, error) {
	if err := skipSpace(r); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	head, err := r.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(head) == binaryMarker {
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
		return readBinaryVector(r)
	}
	return readTextVector(r)
}

func readBinaryVector(r *bufio.Reader) ([]float32, error) {
	tok, err := readToken(r)
	if err != nil {
		return nil, fmt.Errorf("read type token: %w", err)
	}
	var double bool
	switch tok {
	case "FV":
	case "DV":
		double = true
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrBadHeader, tok)
	}

	size, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read dim size: %w", err)
	}
	if size != 4 {
		return nil, fmt.Errorf("%w: dim size %d, want 4", ErrBadHeader, size)
	}
	var dim32 int32
	if err := binary.Read(r, binary.LittleEndian, &dim32); err != nil {
		return nil, fmt.Errorf("read dim: %w", err)
	}
	if dim32 < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrBadHeader, dim32)
	}
	dim, err := safecast.Conv[int](dim32)
	if err != nil {
		return nil, fmt.Errorf("dimension %d: %w", dim32, err)
	}

	vec := make([]float32, dim)
	if !double {
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read %d floats: %w", dim, err)
		}
		return vec, nil
	}
	buf := make([]float64, dim)
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return nil, fmt.Errorf("read %d doubles: %w", dim, err)
	}
	for i, v := range buf {
		vec[i] = float32(v)
	}
	return vec, nil
}

func readTextVector(r *bufio.Reader) ([]float32, error) {
	tok, err := readToken(r)
	if err != nil {
		return nil, fmt.Errorf("read text vector: %w", err)
	}
	if tok != "[" {
		return nil, fmt.Errorf("%w: got %q", ErrBadHeader, tok)
	}
	var vec []float32
	for {
		tok, err := readToken(r)
		if err != nil {
			return nil, fmt.Errorf("read text vector: %w", err)
		}
		if tok == "]" {
			return vec, nil
		}
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, fmt.Errorf("text vector element %d: %w", len(vec), err)
		}
		vec = append(vec, float32(v))
	}
}

// WriteVector encodes vec as a binary FV object and returns the number of
// bytes written.
func WriteVector(w io.Writer, vec []float32) (int, error) {
	dim, err := safecast.Conv[int32](len(vec))
	if err != nil {
		return 0, fmt.Errorf("vector length %d: %w", len(vec), err)
	}
	buf := make([]byte, 0, len(binaryMarker)+3+1+4+4*len(vec))
	buf = append(buf, binaryMarker...)
	buf = append(buf, "FV "...)
	buf = append(buf, 4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dim))
	for _, v := range vec {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return w.Write(buf)
}

// readToken reads a whitespace-delimited token and consumes the single
// delimiter that follows it.
func readToken(r *bufio.Reader) (string, error) {
	if err := skipSpace(r); err != nil {
		return "", err
	}
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		if isSpace(c) {
			return string(tok), nil
		}
		tok = append(tok, c)
	}
}

func skipSpace(r *bufio.Reader) error {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		if !isSpace(c) {
			return r.UnreadByte()
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
