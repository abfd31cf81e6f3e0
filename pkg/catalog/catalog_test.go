package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRegistry = `entries:
  - title: "Go Concurrency Patterns"
    description: "Pipelines and cancellation"
    tags: ["go", "concurrency"]
    url: "https://example.com/go-conc"
  - title: "Writing Threads"
    description: "How to write a viral thread"
    tags: ["social", "writing"]
`

func writeRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadAndSearch(t *testing.T) {
	reg, err := Load(writeRegistry(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", reg.Len())
	}

	hits := reg.Search("GO")
	if len(hits) != 1 || hits[0].Title != "Go Concurrency Patterns" {
		t.Fatalf("case-insensitive search failed: %+v", hits)
	}
	if hits := reg.Search("thread"); len(hits) != 1 {
		t.Fatalf("title substring search failed: %+v", hits)
	}
	if hits := reg.Search(""); hits != nil {
		t.Fatalf("empty query must return nothing, got %+v", hits)
	}
	if hits := reg.Search("kubernetes"); hits != nil {
		t.Fatalf("no-match query must return nothing, got %+v", hits)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", reg.Len())
	}
}
