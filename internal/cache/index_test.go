package cache

import (
	"net/url"
	"testing"
)

func TestIndexEvictsLeastRecentlyUsed(t *testing.T) {
	idx := NewIndex(2)
	idx.Set("A", Entry{Size: 1})
	idx.Set("B", Entry{Size: 2})

	if _, ok := idx.Get("A"); !ok {
		t.Fatalf("A should be present")
	}

	evicted, ok := idx.Set("C", Entry{Size: 3})
	if !ok {
		t.Fatalf("inserting C at capacity should evict")
	}
	if evicted.Key != "B" || evicted.Size != 2 {
		t.Fatalf("expected B to be evicted, got %+v", evicted)
	}
	if _, ok := idx.Get("B"); ok {
		t.Fatalf("B should be gone")
	}
	for _, key := range []string{"A", "C"} {
		if _, ok := idx.Get(key); !ok {
			t.Fatalf("%s should remain", key)
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("expected len 2, got %d", idx.Len())
	}
}

func TestIndexReplaceDoesNotEvict(t *testing.T) {
	idx := NewIndex(2)
	idx.Set("A", Entry{Size: 1})
	idx.Set("B", Entry{Size: 2})

	if _, ok := idx.Set("A", Entry{Size: 10}); ok {
		t.Fatalf("replacing an existing key must not evict")
	}
	entry, _ := idx.Get("A")
	if entry.Size != 10 {
		t.Fatalf("expected replaced size 10, got %d", entry.Size)
	}

	evicted, ok := idx.Set("C", Entry{})
	if !ok || evicted.Key != "B" {
		t.Fatalf("replacement should refresh A's recency, evicted %+v", evicted)
	}
}

func TestIndexReplaceOnlyUpdatesPresentKeys(t *testing.T) {
	idx := NewIndex(1)
	if idx.Replace("A", Entry{Size: 1}, nil) {
		t.Fatalf("replace must not insert a missing key")
	}
	if idx.Len() != 0 {
		t.Fatalf("missing key must stay missing, len %d", idx.Len())
	}

	idx.Set("A", Entry{Size: 1, Path: "a-v1"})
	if !idx.Replace("A", Entry{Size: 1, Path: "a-v1", ETag: `"v2"`}, nil) {
		t.Fatalf("replace should update a present key")
	}
	if entry, _ := idx.Peek("A"); entry.ETag != `"v2"` || entry.Key != "A" {
		t.Fatalf("unexpected replaced entry %+v", entry)
	}

	stale := Entry{Size: 9, Path: "a-old"}
	if idx.Replace("A", Entry{Size: 9}, func(current Entry) bool { return SameBody(current, stale) }) {
		t.Fatalf("replace must refuse when the current entry no longer matches")
	}
	if entry, _ := idx.Peek("A"); entry.Path != "a-v1" {
		t.Fatalf("refused replace must leave the entry untouched, got %+v", entry)
	}

	idx.Delete("A")
	if idx.Replace("A", Entry{Size: 1}, nil) {
		t.Fatalf("replace after delete must not resurrect the key")
	}
}

func TestIndexEntriesOrderAndDelete(t *testing.T) {
	idx := NewIndex(3)
	idx.Set("A", Entry{})
	idx.Set("B", Entry{})
	idx.Set("C", Entry{})
	idx.Get("A")

	got := keysOf(idx.Entries())
	want := []string{"B", "C", "A"}
	if !equalStrings(got, want) {
		t.Fatalf("expected LRU→MRU order %v, got %v", want, got)
	}

	removed, ok := idx.Delete("C")
	if !ok || removed.Key != "C" {
		t.Fatalf("delete should return C, got %+v", removed)
	}
	if _, ok := idx.Delete("C"); ok {
		t.Fatalf("second delete should report missing")
	}
	if idx.Len() != 2 {
		t.Fatalf("expected len 2, got %d", idx.Len())
	}
}

func TestIndexPeekKeepsOrder(t *testing.T) {
	idx := NewIndex(2)
	idx.Set("A", Entry{})
	idx.Set("B", Entry{})
	if _, ok := idx.Peek("A"); !ok {
		t.Fatalf("peek should find A")
	}
	evicted, _ := idx.Set("C", Entry{})
	if evicted.Key != "A" {
		t.Fatalf("peek must not refresh recency, evicted %s", evicted.Key)
	}
}

func TestIndexReturnsIndependentHeaders(t *testing.T) {
	idx := NewIndex(1)
	idx.Set("A", Entry{Header: Header{{Name: "content-type", Value: "text/plain"}}})

	first, _ := idx.Get("A")
	first.Header[0].Value = "mutated"

	second, _ := idx.Get("A")
	if second.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("index should hand out copies, got %q", second.Header.Get("Content-Type"))
	}
}

func TestKeyIgnoresQueryOrder(t *testing.T) {
	first, _ := url.ParseQuery("b=2&a=1")
	second, _ := url.ParseQuery("a=1&b=2")

	k1 := Key("GET", "x", "/p", first)
	k2 := Key("GET", "x", "/p", second)
	if k1 != k2 {
		t.Fatalf("keys should match: %s vs %s", k1, k2)
	}
	if k1 != "GET:x:/p?a=1&b=2" {
		t.Fatalf("unexpected key format %s", k1)
	}
}

func TestKeyDistinguishesMethodAndPath(t *testing.T) {
	if Key("GET", "x", "/p", nil) == Key("HEAD", "x", "/p", nil) {
		t.Fatalf("method should be part of the key")
	}
	if Key("GET", "x", "/p", nil) == Key("GET", "x", "/q", nil) {
		t.Fatalf("path should be part of the key")
	}
	if got := Key("GET", "x", "/p", nil); got != "GET:x:/p?" {
		t.Fatalf("unexpected empty-query key %s", got)
	}
}

func TestKeyDistinguishesQueryShapes(t *testing.T) {
	cases := []struct {
		name  string
		left  string
		right string
	}{
		{name: "repeated vs comma joined", left: "a=1&a=2", right: "a=1,2"},
		{name: "escaped separators vs plain pairs", left: "a=1%26b%3D2", right: "a=1&b=2"},
		{name: "escaped equals in name", left: "a%3Db=1", right: "a=b%3D1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			left, err := url.ParseQuery(tc.left)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.left, err)
			}
			right, err := url.ParseQuery(tc.right)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.right, err)
			}
			if k1, k2 := Key("GET", "h", "/p", left), Key("GET", "h", "/p", right); k1 == k2 {
				t.Fatalf("%q and %q must not share key %s", tc.left, tc.right, k1)
			}
		})
	}
}

func TestKeyKeepsRepeatedValuesInOrder(t *testing.T) {
	query, _ := url.ParseQuery("z=9&a=2&a=1&a=1%2C2")
	if got := Key("GET", "h", "/p", query); got != "GET:h:/p?a=2&a=1&a=1%2C2&z=9" {
		t.Fatalf("unexpected key %s", got)
	}
	reordered, _ := url.ParseQuery("a=1&a=2&z=9")
	original, _ := url.ParseQuery("a=2&a=1&z=9")
	if Key("GET", "h", "/p", reordered) == Key("GET", "h", "/p", original) {
		t.Fatalf("value order of a repeated name is significant")
	}
}

func keysOf(entries []Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
