package ids

import (
	"sort"
	"testing"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	const n = 1000
	got := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		got = append(got, id)
	}
	if !sort.StringsAreSorted(got) {
		t.Fatalf("ids generated in sequence must sort in emission order")
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatalf("fresh id did not validate")
	}
	for _, s := range []string{"", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA", "01ARZ3NDEKTSV4RRFFQ69G5FAVX"} {
		if Valid(s) {
			t.Fatalf("accepted malformed id %q", s)
		}
	}
}
