// Package phones loads Kaldi phone symbol tables.
package phones

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Table maps integer phone ids to symbols and back.
type Table struct {
	int2sym map[int]string
	sym2int map[string]int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		int2sym: make(map[int]string),
		sym2int: make(map[string]int),
	}
}

// Add registers sym under id.
func (t *Table) Add(sym string, id int) {
	t.int2sym[id] = sym
	t.sym2int[sym] = id
}

// Load reads a phone symbol table.
// Format: symbol<whitespace>id, one pair per line (Kaldi phones.txt).
// Disambiguation symbols such as #0 are ordinary entries.
func Load(r io.Reader) (*Table, error) {
	t := NewTable()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNum, len(parts))
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad phone id %q: %w", lineNum, parts[1], err)
		}
		t.Add(parts[0], id)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

// LoadFile opens path and loads the table. An empty path means no table:
// it returns nil without error, which disables phone consistency checks.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Symbol returns the symbol registered for id.
func (t *Table) Symbol(id int) (string, bool) {
	s, ok := t.int2sym[id]
	return s, ok
}

// ID returns the id registered for sym.
func (t *Table) ID(sym string) (int, bool) {
	id, ok := t.sym2int[sym]
	return id, ok
}

// Len returns the number of ids in the table.
func (t *Table) Len() int {
	return len(t.int2sym)
}

// Pure strips the word-position suffix (_B, _I, _E, _S) and trailing
// lexical stress digits from a phone symbol, so "AH0_B" and "AH1" both
// become "AH".
func Pure(sym string) string {
	if i := strings.LastIndexByte(sym, '_'); i > 0 && i == len(sym)-2 {
		switch sym[i+1] {
		case 'B', 'I', 'E', 'S':
			sym = sym[:i]
		}
	}
	return strings.TrimRight(sym, "0123456789")
}
