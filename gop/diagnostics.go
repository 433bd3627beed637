package gop

import "fmt"

// Kind classifies a skipped feature record.
type Kind int

const (
	// KindMissingScore marks a feature key with no human score.
	KindMissingScore Kind = iota
	// KindPhoneMismatch marks a record whose phone id disagrees with the
	// phone recorded for the same key in the score file.
	KindPhoneMismatch
)

func (k Kind) String() string {
	switch k {
	case KindMissingScore:
		return "missing-score"
	case KindPhoneMismatch:
		return "phone-mismatch"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Diagnostic describes one skipped record.
type Diagnostic struct {
	Kind        Kind
	Key         string
	Phone       int    // phone id decoded from the feature vector
	TableSymbol string // symbol of Phone in the phone table, if any
	LabelSymbol string // phone recorded in the score file
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case KindMissingScore:
		return "no human score for " + d.Key
	case KindPhoneMismatch:
		table := d.TableSymbol
		if table == "" {
			table = fmt.Sprintf("<unknown id %d>", d.Phone)
		}
		return fmt.Sprintf("unmatch for %s: %s <--> %s", d.Key, table, d.LabelSymbol)
	}
	return d.Kind.String() + " " + d.Key
}

// Diagnostics is the list of records skipped while collecting training data.
type Diagnostics []Diagnostic

// Count returns the number of diagnostics of kind k.
func (ds Diagnostics) Count(k Kind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}
