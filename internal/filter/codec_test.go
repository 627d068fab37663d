package filter

import (
	"net/url"
	"testing"
)

func TestDecodeSplitsCommaLists(t *testing.T) {
	values := url.Values{}
	values.Set("tags", "golang,redis")
	values.Set("author", "alice|1,bob|2")

	d := Decode(values)
	tags := d.Filters.Values(Tags)
	if len(tags) != 2 || tags[0] != "#golang" || tags[1] != "#redis" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	authors := d.Filters.Values(Author)
	if len(authors) != 2 {
		t.Fatalf("unexpected authors: %v", authors)
	}
}

func TestDecodeIgnoresUnknownKeys(t *testing.T) {
	values := url.Values{}
	values.Set("utm_source", "newsletter")
	values.Set("tags", "golang")

	d := Decode(values)
	if d.Filters.Len() != 1 {
		t.Fatalf("unknown keys should be dropped, got %+v", d.Filters.Entries())
	}
}

func TestDecodePagination(t *testing.T) {
	values := url.Values{}
	values.Set("page", "3")
	values.Set("pageSize", "25")
	d := Decode(values)
	if d.Page != 3 || d.PageSize != 25 || !d.PageOK || !d.PageSizeOK {
		t.Fatalf("unexpected pagination: %+v", d)
	}
}

func TestDecodeBadPaginationFallsBack(t *testing.T) {
	values := url.Values{}
	values.Set("page", "banana")
	values.Set("pageSize", "-5")
	d := Decode(values)
	if d.Page != 1 || d.PageSize != DefaultPageSize {
		t.Fatalf("bad pagination should fall back to defaults, got page=%d size=%d", d.Page, d.PageSize)
	}
	if d.PageOK || d.PageSizeOK {
		t.Fatalf("fallback should be flagged so callers can log it")
	}
}

func TestEncodeOmitsPageOne(t *testing.T) {
	set := NewSet(Filter{Name: Tags, Value: "#golang"})
	values := Encode(set, 1)
	if values.Get("page") != "" {
		t.Fatalf("page=1 should be omitted, got %q", values.Encode())
	}
	values = Encode(set, 4)
	if values.Get("page") != "4" {
		t.Fatalf("expected page=4, got %q", values.Encode())
	}
}

func TestEncodeWritesBareTags(t *testing.T) {
	set := NewSet(
		Filter{Name: Tags, Value: "#golang"},
		Filter{Name: Tags, Value: "#redis"},
	)
	values := Encode(set, 1)
	if got := values.Get("tags"); got != "golang,redis" {
		t.Fatalf("tags should be bare and comma-joined, got %q", got)
	}
}

func TestEncodeKeepsOrphanLogicKeys(t *testing.T) {
	set := NewSet(Filter{Name: TagLogic, Value: "AND"})
	values := Encode(set, 1)
	if values.Get("tagLogic") != "AND" {
		t.Fatalf("logic key without its filter type should still be encoded, got %q", values.Encode())
	}

	// A set holding only an orphan logic key must survive a full round trip.
	back := Decode(values)
	if back.Filters.Signature() != set.Signature() {
		t.Fatalf("orphan logic lost in round trip:\n%s\n%s", set.Signature(), back.Filters.Signature())
	}

	set.Add(Filter{Name: Tags, Value: "#golang"})
	values = Encode(set, 1)
	if values.Get("tagLogic") != "AND" {
		t.Fatalf("logic key should survive alongside its filter type, got %q", values.Encode())
	}
}

func TestRoundTripIsIdempotent(t *testing.T) {
	raw := url.Values{}
	raw.Set("tags", "golang,redis")
	raw.Set("author", "alice|1")
	raw.Set("search", "distributed systems")
	raw.Set("tagLogic", "AND")
	raw.Set("globalLogic", "OR")
	raw.Set("onlyReplies", "true")
	raw.Set("page", "3")

	first := Decode(raw)
	encoded := Encode(first.Filters, first.Page)
	second := Decode(encoded)

	if first.Filters.Signature() != second.Filters.Signature() {
		t.Fatalf("decode(encode(decode(x))) drifted:\n%s\n%s",
			first.Filters.Signature(), second.Filters.Signature())
	}
	if first.Page != second.Page {
		t.Fatalf("page drifted: %d vs %d", first.Page, second.Page)
	}
	if encoded.Encode() != Encode(second.Filters, second.Page).Encode() {
		t.Fatalf("encoding is not stable:\n%s\n%s",
			encoded.Encode(), Encode(second.Filters, second.Page).Encode())
	}
}
