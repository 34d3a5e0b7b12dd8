// Package schema models the target database metadata that grounds SQL
// synthesis: table fragments, example query pairs, and immutable snapshots.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

type ForeignKey struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Fragment describes one table of the target database. Fragments are
// immutable once indexed; a schema refresh produces a whole new snapshot.
type Fragment struct {
	Schema      string       `json:"schema"`
	Table       string       `json:"table"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Description string       `json:"description,omitempty"`
}

func (f Fragment) QualifiedName() string {
	if f.Schema == "" {
		return f.Table
	}
	return f.Schema + "." + f.Table
}

// Text renders the fragment for embedding and prompt serialization.
func (f Fragment) Text() string {
	var b strings.Builder
	b.WriteString("table ")
	b.WriteString(f.QualifiedName())
	if f.Description != "" {
		b.WriteString(": ")
		b.WriteString(f.Description)
	}
	b.WriteString("\ncolumns:")
	for _, col := range f.Columns {
		b.WriteString(" ")
		b.WriteString(col.Name)
		b.WriteString(" ")
		b.WriteString(col.Type)
	}
	if len(f.ForeignKeys) > 0 {
		b.WriteString("\nforeign keys:")
		for _, fk := range f.ForeignKeys {
			b.WriteString(" ")
			b.WriteString(fk.From)
			b.WriteString("->")
			b.WriteString(fk.To)
		}
	}
	return b.String()
}

func (f Fragment) Column(name string) (Column, bool) {
	for _, col := range f.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

// ExamplePair is a known-good natural-language question with its canonical
// SQL. Pairs bias generation toward proven query patterns.
type ExamplePair struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

func (e ExamplePair) Text() string {
	return e.Question
}

type DocKind string

const (
	KindFragment DocKind = "fragment"
	KindExample  DocKind = "example"
)

// Document is the unit handed to the search index: a fragment or an example
// pair plus the text its embedding is computed from.
type Document struct {
	ID       string
	Kind     DocKind
	Text     string
	Fragment *Fragment
	Example  *ExamplePair
}

// Snapshot is a complete, immutable capture of the target schema together
// with the example pairs indexed alongside it. Rebuilds replace the whole
// snapshot; it is never patched in place.
type Snapshot struct {
	Version   string        `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Fragments []Fragment    `json:"fragments"`
	Examples  []ExamplePair `json:"examples,omitempty"`
}

// Documents returns the indexable documents of the snapshot in a stable
// order: fragments sorted by qualified name, then examples by ID.
func (s Snapshot) Documents() []Document {
	fragments := make([]Fragment, len(s.Fragments))
	copy(fragments, s.Fragments)
	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].QualifiedName() < fragments[j].QualifiedName()
	})

	docs := make([]Document, 0, len(fragments)+len(s.Examples))
	for i := range fragments {
		fragment := fragments[i]
		docs = append(docs, Document{
			ID:       "fragment:" + fragment.QualifiedName(),
			Kind:     KindFragment,
			Text:     fragment.Text(),
			Fragment: &fragment,
		})
	}

	examples := make([]ExamplePair, len(s.Examples))
	copy(examples, s.Examples)
	sort.Slice(examples, func(i, j int) bool { return examples[i].ID < examples[j].ID })
	for i := range examples {
		example := examples[i]
		docs = append(docs, Document{
			ID:      "example:" + example.ID,
			Kind:    KindExample,
			Text:    example.Text(),
			Example: &example,
		})
	}
	return docs
}

// Table resolves a bare or schema-qualified table name against the snapshot.
// Bare names match any schema.
func (s Snapshot) Table(name string) (Fragment, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Fragment{}, false
	}
	for _, fragment := range s.Fragments {
		if strings.ToLower(fragment.QualifiedName()) == name {
			return fragment, true
		}
	}
	if !strings.Contains(name, ".") {
		for _, fragment := range s.Fragments {
			if strings.ToLower(fragment.Table) == name {
				return fragment, true
			}
		}
	}
	return Fragment{}, false
}

func (s Snapshot) MarshalJSONIndent() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Source pulls a fresh schema snapshot from the live target database.
type Source interface {
	Pull(ctx context.Context) (Snapshot, error)
}
