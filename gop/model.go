package gop

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ieee0824/gopscore/forest"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownPhone is returned when a model set has no model for a phone.
var ErrUnknownPhone = errors.New("gop: no model for phone")

// Format selects the model file encoding.
type Format string

const (
	FormatGob     Format = "gob"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatGob, FormatMsgpack:
		return f, nil
	}
	return "", fmt.Errorf("unknown model format %q (want gob or msgpack)", s)
}

// FormatForPath guesses the encoding from a file extension: .msgpack and .mp
// are msgpack, everything else gob.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mp":
		return FormatMsgpack
	}
	return FormatGob
}

// ModelSet maps phone ids to their fitted regressors.
type ModelSet struct {
	Models map[int]*forest.Regressor
}

// NewModelSet creates an empty model set.
func NewModelSet() *ModelSet {
	return &ModelSet{Models: make(map[int]*forest.Regressor)}
}

// Phones returns the phone ids that have a model, ascending.
func (ms *ModelSet) Phones() []int {
	ids := make([]int, 0, len(ms.Models))
	for ph := range ms.Models {
		ids = append(ids, ph)
	}
	sort.Ints(ids)
	return ids
}

// Predict scores one feature vector (without the leading phone id) with the
// model of phone.
func (ms *ModelSet) Predict(phone int, feat []float64) (float64, error) {
	m, ok := ms.Models[phone]
	if !ok {
		return 0, fmt.Errorf("%w %d", ErrUnknownPhone, phone)
	}
	return m.Predict(feat)
}

// serialized model set; the forest types are plain data already.
type serializedModelSet struct {
	Models map[int]*forest.Regressor `msgpack:"models"`
}

// Save encodes the model set to w.
func (ms *ModelSet) Save(w io.Writer, format Format) error {
	sm := serializedModelSet{Models: ms.Models}
	switch format {
	case FormatGob:
		return gob.NewEncoder(w).Encode(sm)
	case FormatMsgpack:
		return msgpack.NewEncoder(w).Encode(&sm)
	}
	return fmt.Errorf("unknown model format %q", format)
}

// Load decodes a model set from r.
func Load(r io.Reader, format Format) (*ModelSet, error) {
	var sm serializedModelSet
	var err error
	switch format {
	case FormatGob:
		err = gob.NewDecoder(r).Decode(&sm)
	case FormatMsgpack:
		err = msgpack.NewDecoder(r).Decode(&sm)
	default:
		return nil, fmt.Errorf("unknown model format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode model set: %w", err)
	}
	ms := NewModelSet()
	for ph, m := range sm.Models {
		if m == nil || len(m.Trees) == 0 {
			return nil, fmt.Errorf("decode model set: phone %d has no trees", ph)
		}
		ms.Models[ph] = m
	}
	return ms, nil
}

// SaveFile writes the model set to path, replacing any existing file.
func (ms *ModelSet) SaveFile(path string, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := ms.Save(bw, format); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LoadFile reads a model set from path. An empty format is inferred from
// the file extension.
func LoadFile(path string, format Format) (*ModelSet, error) {
	if format == "" {
		format = FormatForPath(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(bufio.NewReader(f), format)
}
