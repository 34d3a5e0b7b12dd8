package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDocumentsStableOrder(t *testing.T) {
	snap := Snapshot{
		Version: "snap-1",
		Fragments: []Fragment{
			{Schema: "public", Table: "orders", Columns: []Column{{Name: "id", Type: "bigint"}}},
			{Schema: "public", Table: "customers", Columns: []Column{{Name: "id", Type: "bigint"}}},
		},
		Examples: []ExamplePair{
			{ID: "seed-002", Question: "q2", SQL: "SELECT 2;"},
			{ID: "seed-001", Question: "q1", SQL: "SELECT 1;"},
		},
	}

	docs := snap.Documents()
	wantIDs := []string{
		"fragment:public.customers",
		"fragment:public.orders",
		"example:seed-001",
		"example:seed-002",
	}
	if len(docs) != len(wantIDs) {
		t.Fatalf("documents = %d, want %d", len(docs), len(wantIDs))
	}
	for i, want := range wantIDs {
		if docs[i].ID != want {
			t.Fatalf("documents[%d].ID = %q, want %q", i, docs[i].ID, want)
		}
	}
	if docs[0].Kind != KindFragment || docs[2].Kind != KindExample {
		t.Fatalf("unexpected kinds: %v %v", docs[0].Kind, docs[2].Kind)
	}
	if docs[0].Fragment == nil || docs[0].Fragment.Table != "customers" {
		t.Fatal("fragment payload not attached")
	}
}

func TestDocumentsPointersAreIndependent(t *testing.T) {
	snap := Snapshot{
		Fragments: []Fragment{
			{Schema: "public", Table: "a"},
			{Schema: "public", Table: "b"},
		},
	}
	docs := snap.Documents()
	if docs[0].Fragment == docs[1].Fragment {
		t.Fatal("documents share one fragment pointer")
	}
	if docs[0].Fragment.Table != "a" || docs[1].Fragment.Table != "b" {
		t.Fatalf("fragments = %q %q", docs[0].Fragment.Table, docs[1].Fragment.Table)
	}
}

func TestTableResolvesBareAndQualifiedNames(t *testing.T) {
	snap := Snapshot{Fragments: []Fragment{
		{Schema: "public", Table: "customers"},
		{Schema: "sales", Table: "orders"},
	}}

	if _, ok := snap.Table("public.customers"); !ok {
		t.Fatal("qualified lookup failed")
	}
	if fragment, ok := snap.Table("ORDERS"); !ok || fragment.Schema != "sales" {
		t.Fatalf("bare lookup = %+v ok=%v", fragment, ok)
	}
	if _, ok := snap.Table("missing"); ok {
		t.Fatal("unknown table resolved")
	}
	if _, ok := snap.Table(""); ok {
		t.Fatal("empty name resolved")
	}
}

func TestFragmentText(t *testing.T) {
	fragment := Fragment{
		Schema:      "public",
		Table:       "orders",
		Description: "customer orders",
		Columns: []Column{
			{Name: "id", Type: "bigint"},
			{Name: "customer_id", Type: "bigint"},
		},
		ForeignKeys: []ForeignKey{{From: "customer_id", To: "public.customers.id"}},
	}

	text := fragment.Text()
	want := "table public.orders: customer orders\ncolumns: id bigint customer_id bigint\nforeign keys: customer_id->public.customers.id"
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
}

func TestLoadExamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examples.json")
	payload := `[
		{"question": "How many customers are there?", "sql": "SELECT COUNT(*) FROM customers LIMIT 200;"},
		{"id": "top-products", "question": "Top products by revenue", "sql": "SELECT 1;"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	examples, err := LoadExamples(path)
	if err != nil {
		t.Fatalf("LoadExamples: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("examples = %d", len(examples))
	}
	if examples[0].ID != "seed-000" {
		t.Fatalf("generated id = %q", examples[0].ID)
	}
	if examples[1].ID != "top-products" {
		t.Fatalf("explicit id = %q", examples[1].ID)
	}
}

func TestLoadExamplesMissingFileYieldsNone(t *testing.T) {
	examples, err := LoadExamples(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadExamples: %v", err)
	}
	if examples != nil {
		t.Fatalf("examples = %v, want nil", examples)
	}
}

func TestLoadExamplesRejectsEmptyQuestion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examples.json")
	if err := os.WriteFile(path, []byte(`[{"question": " ", "sql": "SELECT 1;"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExamples(path); err == nil {
		t.Fatal("expected validation error")
	}
}
