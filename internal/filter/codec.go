package filter

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultPageSize is the page window used when the URL carries none.
const DefaultPageSize = 10

// Decoded is the result of parsing a query string: the active filter set plus
// pagination. PageOK/PageSizeOK are false when the raw value failed to parse
// and the default was substituted, so callers can log instead of guessing
// silently.
type Decoded struct {
	Filters    Set
	Page       int
	PageSize   int
	PageOK     bool
	PageSizeOK bool
}

// Decode parses URL query values into a filter set and pagination. Unknown
// keys are ignored; comma lists for tags/author/mentions split into separate
// entries; tags are re-prefixed with '#' and sanitized; unparseable or
// non-positive page/pageSize fall back to 1 and DefaultPageSize.
func Decode(values url.Values) Decoded {
	d := Decoded{Page: 1, PageSize: DefaultPageSize, PageOK: true, PageSizeOK: true}

	for _, key := range []Name{Tags, Author, Mentions} {
		raw := values.Get(string(key))
		if raw == "" {
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d.Filters.Add(Filter{Name: key, Value: part})
		}
	}

	if raw := strings.TrimSpace(values.Get(string(Search))); raw != "" {
		d.Filters.Add(Filter{Name: Search, Value: raw})
	}
	if values.Get(string(OnlyReplies)) == "true" {
		d.Filters.Add(Filter{Name: OnlyReplies, Value: "true"})
	}
	for _, key := range []Name{TagLogic, AuthorLogic, MentionsLogic, SearchLogic, GlobalLogic} {
		if raw := values.Get(string(key)); raw != "" {
			d.Filters.Add(Filter{Name: key, Value: raw})
		}
	}

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			d.PageOK = false
		} else {
			d.Page = page
		}
	}
	if raw := values.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			d.PageSizeOK = false
		} else {
			d.PageSize = size
		}
	}
	return d
}

// Encode serializes a filter set and page into URL query values. Multi-valued
// types are deduplicated and comma-joined, tags are written bare, every logic
// key present in the set is kept even when the filter type it modifies is
// absent, and page is omitted at 1 so the canonical URL stays minimal.
func Encode(set Set, page int) url.Values {
	values := url.Values{}

	// Tags travel bare in the URL; Decode restores the '#' prefix.
	tags := set.Values(Tags)
	for i, tag := range tags {
		tags[i] = strings.TrimPrefix(tag, "#")
	}
	if joined := joinUnique(tags); joined != "" {
		values.Set(string(Tags), joined)
	}
	for _, key := range []Name{Author, Mentions} {
		if joined := joinUnique(set.Values(key)); joined != "" {
			values.Set(string(key), joined)
		}
	}
	if search, ok := set.First(Search); ok && strings.TrimSpace(search) != "" {
		values.Set(string(Search), search)
	}
	if set.Has(OnlyReplies, "true") {
		values.Set(string(OnlyReplies), "true")
	}

	// An orphan logic key is inert for the compiler but still part of the
	// state; dropping it would make the state to URL direction lossy.
	for _, key := range []Name{TagLogic, AuthorLogic, MentionsLogic, SearchLogic, GlobalLogic} {
		if value, ok := set.First(key); ok {
			values.Set(string(key), value)
		}
	}

	if page > 1 {
		values.Set("page", strconv.Itoa(page))
	}
	return values
}

func joinUnique(parts []string) string {
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return strings.Join(out, ",")
}
