package kaldi

import (
	"bufio"
	"fmt"
	"os"
)

// Writer writes binary float vectors to an ark file and indexes them in a
// matching scp file.
type Writer struct {
	arkPath string
	ark     *os.File
	scp     *os.File
	arkBuf  *bufio.Writer
	scpBuf  *bufio.Writer
	offset  int64
}

// Create truncates or creates arkPath and scpPath.
func Create(arkPath, scpPath string) (*Writer, error) {
	ark, err := os.Create(arkPath)
	if err != nil {
		return nil, err
	}
	scp, err := os.Create(scpPath)
	if err != nil {
		ark.Close()
		return nil, err
	}
	return &Writer{
		arkPath: arkPath,
		ark:     ark,
		scp:     scp,
		arkBuf:  bufio.NewWriter(ark),
		scpBuf:  bufio.NewWriter(scp),
	}, nil
}

// WriteVector appends "<key> <vector>" to the ark and "<key> <ark>:<offset>"
// to the scp.
func (w *Writer) WriteVector(key string, vec []float32) error {
	n, err := fmt.Fprintf(w.arkBuf, "%s ", key)
	if err != nil {
		return err
	}
	w.offset += int64(n)
	objStart := w.offset

	n, err = WriteVector(w.arkBuf, vec)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	w.offset += int64(n)

	_, err = fmt.Fprintf(w.scpBuf, "%s %s:%d\n", key, w.arkPath, objStart)
	return err
}

// Close flushes and closes both files.
func (w *Writer) Close() error {
	errs := []error{w.arkBuf.Flush(), w.scpBuf.Flush(), w.ark.Close(), w.scp.Close()}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
