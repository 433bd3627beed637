// Package scores loads phone-level human expert scores.
//
// The input is a JSON document keyed by utterance id, in the layout used by
// the speechocean762 corpus:
//
//	{
//		"000010011": {
//			"words": [
//				{"phones": ["W", "IY0"], "phones-accuracy": [2.0, 1.8]},
//				...
//			]
//		},
//		...
//	}
//
// Each phone gets the key "<utt>.<n>", n counting phones across the words of
// the utterance from 0, which is how GOP feature archives key their vectors.
package scores

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultFloor is the lowest score kept after loading.
const DefaultFloor = 1.0

// Record is the human score and canonical phone for one key.
type Record struct {
	Score float64
	Phone string
}

// Set holds floored scores for every phone key in a score file.
type Set struct {
	records map[string]Record
	floor   float64
}

// document mirrors the JSON layout; unknown fields are ignored.
type document map[string]utterance

type utterance struct {
	Words *[]word `json:"words"`
}

type word struct {
	Phones   phoneList  `json:"phones"`
	Accuracy *[]float64 `json:"phones-accuracy"`
}

// phoneList accepts either ["W", "IY0"] or "W IY0".
type phoneList []string

func (p *phoneList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("phones must be a string array or a space separated string")
	}
	*p = strings.Fields(s)
	return nil
}

// Load decodes a score document and applies floor to every score. The
// document structure is validated up front: an utterance without a words
// array, or a word whose phones and phones-accuracy lengths differ, fails the
// whole load.
func Load(r io.Reader, floor float64) (*Set, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode human scores: %w", err)
	}

	s := &Set{
		records: make(map[string]Record),
		floor:   floor,
	}
	for utt, u := range doc {
		if u.Words == nil {
			return nil, fmt.Errorf("utterance %s: missing \"words\"", utt)
		}
		n := 0
		for wi, w := range *u.Words {
			if w.Accuracy == nil {
				return nil, fmt.Errorf("utterance %s word %d: missing \"phones-accuracy\"", utt, wi)
			}
			acc := *w.Accuracy
			if len(acc) != len(w.Phones) {
				return nil, fmt.Errorf("utterance %s word %d: %d phones but %d accuracy scores",
					utt, wi, len(w.Phones), len(acc))
			}
			for i, ph := range w.Phones {
				key := fmt.Sprintf("%s.%d", utt, n)
				n++
				s.records[key] = Record{Score: max(acc[i], floor), Phone: ph}
			}
		}
	}
	return s, nil
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string, floor float64) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, floor)
}

// Lookup returns the record for key.
func (s *Set) Lookup(key string) (Record, bool) {
	r, ok := s.records[key]
	return r, ok
}

// Len returns the number of phone keys.
func (s *Set) Len() int {
	return len(s.records)
}

// Floor returns the floor applied at load time.
func (s *Set) Floor() float64 {
	return s.floor
}
