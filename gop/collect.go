// Package gop turns GOP feature vectors and human expert scores into
// per-phone score regressors.
package gop

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"fortio.org/safecast"
	"github.com/ieee0824/gopscore/kaldi"
	"github.com/ieee0824/gopscore/phones"
	"github.com/ieee0824/gopscore/scores"
)

// RecordSource yields feature records one at a time and returns io.EOF when
// exhausted. *kaldi.ScpReader satisfies it.
type RecordSource interface {
	Next() (kaldi.Record, error)
}

// Sample is one training pair: a human score and the feature vector without
// its leading phone id.
type Sample struct {
	Score   float64
	Feature []float64
}

// Dataset groups training samples by phone id.
type Dataset struct {
	Groups map[int][]Sample
	Read   int // feature records read, kept or not
}

// Phones returns the phone ids with at least one sample, ascending.
func (d *Dataset) Phones() []int {
	ids := make([]int, 0, len(d.Groups))
	for ph, samples := range d.Groups {
		if len(samples) > 0 {
			ids = append(ids, ph)
		}
	}
	sort.Ints(ids)
	return ids
}

// Len returns the total number of kept samples.
func (d *Dataset) Len() int {
	n := 0
	for _, samples := range d.Groups {
		n += len(samples)
	}
	return n
}

// Collect streams every record from src and keeps those that have a human
// score and, when table is non-nil, whose phone id maps to the same pure
// phone as the score file records for that key. Skipped records are logged
// as warnings and returned as diagnostics; read errors and malformed vectors
// abort the collection.
func Collect(src RecordSource, human *scores.Set, table *phones.Table, log *slog.Logger) (*Dataset, Diagnostics, error) {
	log = orDiscard(log)
	ds := &Dataset{Groups: make(map[int][]Sample)}
	var diags Diagnostics

	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, diags, err
		}
		ds.Read++

		if len(rec.Vector) < 2 {
			return nil, diags, fmt.Errorf("%s: vector has %d elements, need a phone id and at least one feature", rec.Key, len(rec.Vector))
		}
		ph, phErr := safecast.Truncate[int](rec.Vector[0])

		label, ok := human.Lookup(rec.Key)
		if !ok {
			// Unscored records are skipped even when their phone id is bad.
			d := Diagnostic{Kind: KindMissingScore, Key: rec.Key}
			if phErr == nil {
				d.Phone = ph
			}
			log.Warn("no human score", "key", rec.Key, "phone", d.Phone)
			diags = append(diags, d)
			continue
		}
		if phErr != nil {
			return nil, diags, fmt.Errorf("%s: bad phone id %v: %w", rec.Key, rec.Vector[0], phErr)
		}

		if table != nil {
			sym, known := table.Symbol(ph)
			if !known || phones.Pure(sym) != phones.Pure(label.Phone) {
				d := Diagnostic{
					Kind:        KindPhoneMismatch,
					Key:         rec.Key,
					Phone:       ph,
					TableSymbol: sym,
					LabelSymbol: label.Phone,
				}
				log.Warn("phone mismatch", "key", rec.Key, "phone", ph, "table", sym, "label", label.Phone)
				diags = append(diags, d)
				continue
			}
		}

		feat := make([]float64, len(rec.Vector)-1)
		for i, v := range rec.Vector[1:] {
			feat[i] = float64(v)
		}
		if group := ds.Groups[ph]; len(group) > 0 && len(group[0].Feature) != len(feat) {
			return nil, diags, fmt.Errorf("%s: phone %d feature dimension %d, earlier records have %d",
				rec.Key, ph, len(feat), len(group[0].Feature))
		}
		ds.Groups[ph] = append(ds.Groups[ph], Sample{Score: label.Score, Feature: feat})
	}

	return ds, diags, nil
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log
}
