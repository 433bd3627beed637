package gop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ieee0824/gopscore/forest"
	"github.com/ieee0824/gopscore/kaldi"
	"github.com/ieee0824/gopscore/phones"
	"github.com/ieee0824/gopscore/scores"
)

type sliceSource struct {
	recs []kaldi.Record
	err  error
	i    int
}

func (s *sliceSource) Next() (kaldi.Record, error) {
	if s.i >= len(s.recs) {
		if s.err != nil {
			return kaldi.Record{}, s.err
		}
		return kaldi.Record{}, io.EOF
	}
	r := s.recs[s.i]
	s.i++
	return r, nil
}

type labeledPhone struct {
	phone string
	score float64
}

// scoreSet builds a score file with one single-word utterance per entry; the
// keys are "<utt>.<n>".
func scoreSet(t *testing.T, utts map[string][]labeledPhone, floor float64) *scores.Set {
	t.Helper()
	doc := make(map[string]any)
	for utt, phs := range utts {
		var names []string
		var acc []float64
		for _, p := range phs {
			names = append(names, p.phone)
			acc = append(acc, p.score)
		}
		doc[utt] = map[string]any{
			"words": []any{map[string]any{"phones": names, "phones-accuracy": acc}},
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	s, err := scores.Load(bytes.NewReader(data), floor)
	if err != nil {
		t.Fatalf("scores.Load error: %v", err)
	}
	return s
}

func testTable(t *testing.T) *phones.Table {
	t.Helper()
	tb, err := phones.Load(strings.NewReader("SIL 1\nAA_B 2\nIY_E 3\nW 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	return tb
}

func rec(key string, vals ...float32) kaldi.Record {
	return kaldi.Record{Key: key, Vector: vals}
}

func smallTrainConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.Forest.NumTrees = 5
	return cfg
}

func TestCollectSkipsMissingScores(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"AA1", 2}, {"IY0", 1}},
	}, 0)
	src := &sliceSource{recs: []kaldi.Record{
		rec("u1.0", 2, 0.5, 0.1),
		rec("u9.0", 2, 99, 99), // no score
		rec("u1.1", 3, 0.2, 0.3),
	}}

	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	ds, diags, err := Collect(src, human, nil, log)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if ds.Read != 3 {
		t.Errorf("Read = %d, want 3", ds.Read)
	}
	if ds.Len() != 2 {
		t.Errorf("Len = %d, want 2", ds.Len())
	}
	if len(diags) != 1 || diags[0].Kind != KindMissingScore || diags[0].Key != "u9.0" {
		t.Fatalf("diags = %v, want one missing score for u9.0", diags)
	}
	if got := diags[0].String(); got != "no human score for u9.0" {
		t.Errorf("diag string = %q", got)
	}
	if !strings.Contains(logBuf.String(), "key=u9.0") {
		t.Errorf("log output %q does not mention u9.0", logBuf.String())
	}

	// The excluded record must not leak into any group.
	for ph, samples := range ds.Groups {
		for _, s := range samples {
			if s.Feature[0] == 99 {
				t.Errorf("phone %d contains the excluded record", ph)
			}
		}
	}
}

func TestCollectPhoneMismatch(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"AA1", 2}, {"W", 1}, {"IY0", 2}},
	}, 0)
	src := &sliceSource{recs: []kaldi.Record{
		rec("u1.0", 2, 0.1), // AA_B vs AA1: same pure phone
		rec("u1.1", 3, 0.2), // IY_E vs W: mismatch
		rec("u1.2", 7, 0.3), // id 7 not in table
	}}

	ds, diags, err := Collect(src, human, testTable(t), nil)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if diags.Count(KindPhoneMismatch) != 2 {
		t.Fatalf("diags = %v, want 2 mismatches", diags)
	}
	if diags[0].TableSymbol != "IY_E" || diags[0].LabelSymbol != "W" {
		t.Errorf("first mismatch = %+v", diags[0])
	}
	if !strings.Contains(diags[1].String(), "<unknown id 7>") {
		t.Errorf("unknown id diag = %q", diags[1].String())
	}
	if got := ds.Phones(); len(got) != 1 || got[0] != 2 {
		t.Errorf("phones = %v, want [2]", got)
	}

	// Every retained record agrees with the score file.
	tb := testTable(t)
	for ph := range ds.Groups {
		sym, _ := tb.Symbol(ph)
		if phones.Pure(sym) != "AA" {
			t.Errorf("retained phone %d (%s)", ph, sym)
		}
	}
}

func TestCollectWithoutTableSkipsConsistencyCheck(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"W", 2}},
	}, 0)
	src := &sliceSource{recs: []kaldi.Record{rec("u1.0", 3, 0.2)}}
	ds, diags, err := Collect(src, human, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 0 {
		t.Errorf("diags = %v, want none", diags)
	}
	if len(ds.Groups[3]) != 1 {
		t.Errorf("phone 3 samples = %d, want 1", len(ds.Groups[3]))
	}
}

func TestCollectErrors(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"W", 2}, {"W", 1}},
	}, 0)
	readErr := errors.New("disk on fire")

	tests := []struct {
		name string
		src  *sliceSource
	}{
		{"read error", &sliceSource{recs: []kaldi.Record{rec("u1.0", 4, 1)}, err: readErr}},
		{"short vector", &sliceSource{recs: []kaldi.Record{rec("u1.0", 4)}}},
		{"dimension change", &sliceSource{recs: []kaldi.Record{rec("u1.0", 4, 1, 2), rec("u1.1", 4, 1)}}},
		{"nan phone id", &sliceSource{recs: []kaldi.Record{rec("u1.0", float32(nan()), 1)}}},
	}
	for _, tt := range tests {
		if _, _, err := Collect(tt.src, human, nil, nil); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestCollectMissingScoreWithBadPhoneID(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"W", 2}},
	}, 0)
	src := &sliceSource{recs: []kaldi.Record{
		rec("nokey.0", float32(nan()), 1),
		rec("nokey.1", 1e20, 1),
		rec("u1.0", 4, 1),
	}}
	ds, diags, err := Collect(src, human, nil, nil)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if diags.Count(KindMissingScore) != 2 {
		t.Errorf("missing score diagnostics = %d, want 2: %v", diags.Count(KindMissingScore), diags)
	}
	for _, d := range diags {
		if d.Phone != 0 {
			t.Errorf("%s: Phone = %d, want 0 for an undecodable id", d.Key, d.Phone)
		}
	}
	if ds.Len() != 1 || len(ds.Groups[4]) != 1 {
		t.Errorf("groups = %v, want one sample for phone 4", ds.Groups)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestBalance(t *testing.T) {
	var samples []Sample
	add := func(score float64, n int) {
		for i := 0; i < n; i++ {
			samples = append(samples, Sample{Score: score, Feature: []float64{score, float64(i)}})
		}
	}
	add(0, 2)
	add(1, 7)
	add(2, 3)
	add(1.4, 1) // rounds into bucket 1

	out := Balance(samples, 42)
	counts := BucketCounts(out)
	if len(counts) != 3 {
		t.Fatalf("buckets = %v, want 3", counts)
	}
	for b, n := range counts {
		if n != 8 {
			t.Errorf("bucket %d has %d samples, want 8", b, n)
		}
	}
	if len(out) != 24 {
		t.Errorf("len = %d, want 24", len(out))
	}

	// Originals are kept.
	seen := map[[2]float64]bool{}
	for _, s := range out {
		seen[[2]float64{s.Feature[0], s.Feature[1]}] = true
	}
	for _, s := range samples {
		if !seen[[2]float64{s.Feature[0], s.Feature[1]}] {
			t.Errorf("original sample %v missing", s)
		}
	}

	again := Balance(samples, 42)
	for i := range out {
		if out[i].Score != again[i].Score || out[i].Feature[1] != again[i].Feature[1] {
			t.Fatalf("Balance not deterministic at %d", i)
		}
	}
}

func TestBalanceSingleBucket(t *testing.T) {
	samples := []Sample{{Score: 2, Feature: []float64{1}}, {Score: 2, Feature: []float64{2}}}
	out := Balance(samples, 1)
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{0, 0}, {0.49, 0}, {0.5, 1}, {1.5, 2}, {2, 2}, {1.2, 1},
	}
	for _, tt := range tests {
		if got := Bucket(tt.score); got != tt.want {
			t.Errorf("Bucket(%v) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestTrainTwoPhones(t *testing.T) {
	utts := map[string][]labeledPhone{}
	var recs []kaldi.Record
	for i := 0; i < 5; i++ {
		utt := fmt.Sprintf("a%d", i)
		utts[utt] = []labeledPhone{{"AA", float64(i%3) + 0.2}}
		recs = append(recs, rec(utt+".0", 1, float32(i), float32(i)*0.5))
	}
	for i := 0; i < 3; i++ {
		utt := fmt.Sprintf("b%d", i)
		utts[utt] = []labeledPhone{{"IY", float64(i)}}
		recs = append(recs, rec(utt+".0", 2, float32(i), 1))
	}
	const floor = 1.0
	human := scoreSet(t, utts, floor)

	ds, diags, err := Collect(&sliceSource{recs: recs}, human, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 0 {
		t.Fatalf("diags = %v", diags)
	}
	for _, samples := range ds.Groups {
		for _, s := range Balance(samples, 0) {
			if s.Score < floor {
				t.Errorf("label %v below floor", s.Score)
			}
		}
	}

	ms, err := Train(context.Background(), ds, smallTrainConfig(), nil)
	if err != nil {
		t.Fatalf("Train error: %v", err)
	}
	got := ms.Phones()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("phones = %v, want [1 2]", got)
	}
}

func TestTrainPhoneWithoutScoreAbsent(t *testing.T) {
	human := scoreSet(t, map[string][]labeledPhone{
		"u1": {{"AA", 2}, {"AA", 1}},
	}, 1)
	src := &sliceSource{recs: []kaldi.Record{
		rec("u1.0", 1, 0.1),
		rec("u1.1", 1, 0.9),
		rec("u2.0", 3, 0.5), // phone 3, no score
	}}
	var logBuf bytes.Buffer
	ds, diags, err := Collect(src, human, nil, slog.New(slog.NewTextHandler(&logBuf, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if diags.Count(KindMissingScore) != 1 {
		t.Errorf("diags = %v, want one missing score", diags)
	}
	if !strings.Contains(logBuf.String(), "level=WARN") {
		t.Errorf("no warning logged: %q", logBuf.String())
	}

	ms, err := Train(context.Background(), ds, smallTrainConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ms.Models[3]; ok {
		t.Error("phone 3 should have no model")
	}
	for _, ph := range ms.Phones() {
		if _, ok := ds.Groups[ph]; !ok {
			t.Errorf("model for phone %d not present in training data", ph)
		}
	}
}

func TestTrainEmptyDataset(t *testing.T) {
	ds := &Dataset{Groups: map[int][]Sample{5: nil}}
	ms, err := Train(context.Background(), ds, smallTrainConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms.Models) != 0 {
		t.Errorf("models = %d, want 0", len(ms.Models))
	}
}

func TestTrainCancelled(t *testing.T) {
	ds := &Dataset{Groups: map[int][]Sample{1: {{Score: 1, Feature: []float64{1}}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Train(ctx, ds, smallTrainConfig(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Train = %v, want context.Canceled", err)
	}
}

func TestTrainInvalidConfig(t *testing.T) {
	ds := &Dataset{Groups: map[int][]Sample{1: {{Score: 1, Feature: []float64{1}}}}}
	cfg := smallTrainConfig()
	cfg.Forest.NumTrees = 0
	if _, err := Train(context.Background(), ds, cfg, nil); err == nil {
		t.Error("expected config error")
	}
}

func trainedSet(t *testing.T) *ModelSet {
	t.Helper()
	ds := &Dataset{Groups: map[int][]Sample{
		1: {{Score: 1, Feature: []float64{0, 0}}, {Score: 2, Feature: []float64{1, 1}}, {Score: 2, Feature: []float64{0.9, 1}}},
		4: {{Score: 1, Feature: []float64{5}}, {Score: 1.5, Feature: []float64{6}}},
	}}
	ms, err := Train(context.Background(), ds, smallTrainConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return ms
}

func TestModelSetRoundTrip(t *testing.T) {
	ms := trainedSet(t)
	probes := map[int][]float64{1: {0.95, 1}, 4: {5.2}}

	for _, format := range []Format{FormatGob, FormatMsgpack} {
		var buf bytes.Buffer
		if err := ms.Save(&buf, format); err != nil {
			t.Fatalf("%s: Save error: %v", format, err)
		}
		loaded, err := Load(&buf, format)
		if err != nil {
			t.Fatalf("%s: Load error: %v", format, err)
		}
		if len(loaded.Phones()) != 2 {
			t.Fatalf("%s: phones = %v", format, loaded.Phones())
		}
		for ph, x := range probes {
			want, err := ms.Predict(ph, x)
			if err != nil {
				t.Fatal(err)
			}
			got, err := loaded.Predict(ph, x)
			if err != nil {
				t.Fatalf("%s: Predict(%d) error: %v", format, ph, err)
			}
			if got != want {
				t.Errorf("%s: Predict(%d) = %f, want %f", format, ph, got, want)
			}
		}
	}
}

func TestModelSetFileRoundTrip(t *testing.T) {
	ms := trainedSet(t)
	dir := t.TempDir()
	for _, name := range []string{"model.pkl", "model.msgpack"} {
		path := filepath.Join(dir, name)
		format := FormatForPath(path)
		// Written twice: the second write must overwrite, not append.
		for i := 0; i < 2; i++ {
			if err := ms.SaveFile(path, format); err != nil {
				t.Fatalf("SaveFile(%s) error: %v", name, err)
			}
		}
		loaded, err := LoadFile(path, format)
		if err != nil {
			t.Fatalf("LoadFile(%s) error: %v", name, err)
		}
		if len(loaded.Models) != len(ms.Models) {
			t.Errorf("%s: %d models, want %d", name, len(loaded.Models), len(ms.Models))
		}
		if _, err := LoadFile(path, ""); err != nil {
			t.Errorf("LoadFile(%s) with inferred format error: %v", name, err)
		}
	}
	// A msgpack file is not valid gob.
	if _, err := LoadFile(filepath.Join(dir, "model.msgpack"), FormatGob); err == nil {
		t.Error("LoadFile(model.msgpack, gob) should fail")
	}

	if err := ms.SaveFile(filepath.Join(dir, "missing", "model"), FormatGob); err == nil {
		t.Error("SaveFile into a missing directory should fail")
	}
}

func TestModelSetPredictErrors(t *testing.T) {
	ms := trainedSet(t)
	if _, err := ms.Predict(9, []float64{1}); !errors.Is(err, ErrUnknownPhone) {
		t.Errorf("Predict(9) = %v, want ErrUnknownPhone", err)
	}
	if _, err := ms.Predict(1, []float64{1}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestLoadRejectsEmptyModels(t *testing.T) {
	ms := NewModelSet()
	ms.Models[2] = forest.NewRegressor(forest.DefaultConfig())
	var buf bytes.Buffer
	if err := ms.Save(&buf, FormatGob); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(&buf, FormatGob); err == nil {
		t.Error("expected error for a model without trees")
	}
	if _, err := Load(strings.NewReader("garbage"), FormatMsgpack); err == nil {
		t.Error("expected decode error")
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"gob", "GOB", "msgpack"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) error: %v", s, err)
		}
	}
	if _, err := ParseFormat("pickle"); err == nil {
		t.Error("ParseFormat(pickle) should fail")
	}
	if FormatForPath("a/b.MP") != FormatMsgpack || FormatForPath("model.gob") != FormatGob {
		t.Error("FormatForPath misclassified")
	}
}

func TestKindString(t *testing.T) {
	if KindMissingScore.String() != "missing-score" || KindPhoneMismatch.String() != "phone-mismatch" {
		t.Error("unexpected kind names")
	}
	if Kind(9).String() != "Kind(9)" {
		t.Errorf("Kind(9) = %s", Kind(9))
	}
}
