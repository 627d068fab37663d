// Package query compiles a filter set into a parameterized SQL WHERE clause.
// It performs no I/O; malformed values are rejected at the store boundary
// before they reach this package.
package query

import (
	"fmt"
	"strings"

	"quorum/api/internal/filter"
)

// Options carries the per-request knobs that shape the clause alongside the
// filter set itself.
type Options struct {
	OnlyMine             bool
	UserID               int64
	IncludeThreadReplies bool
}

// Compiled is a WHERE clause plus its positional parameters. Placeholder $i
// corresponds exactly to Params[i-1]; no parameter is skipped or reused.
type Compiled struct {
	Where  string
	Params []any
}

// NextPlaceholder returns the index the next appended parameter would take,
// so callers can extend the statement with LIMIT/OFFSET placeholders.
func (c Compiled) NextPlaceholder() int { return len(c.Params) + 1 }

type builder struct {
	where  strings.Builder
	params []any
	groups []string
}

func (b *builder) placeholder(value any) string {
	b.params = append(b.params, value)
	return fmt.Sprintf("$%d", len(b.params))
}

// Compile translates the set into a clause over submissions (aliased s).
// Each filter type becomes one parenthesized group honoring its type logic
// (default OR); the groups are joined by globalLogic (default AND) and ANDed
// onto the base clause. The thread restriction is a base-clause concern:
// top-level only by default, dropped when IncludeThreadReplies, inverted when
// onlyReplies=true.
func Compile(set filter.Set, opts Options) Compiled {
	b := &builder{}
	b.where.WriteString("WHERE 1=1")

	onlyReplies := set.Has(filter.OnlyReplies, "true")
	if onlyReplies {
		b.where.WriteString(" AND s.thread_parent_id IS NOT NULL")
	} else if !opts.IncludeThreadReplies {
		b.where.WriteString(" AND s.thread_parent_id IS NULL")
	}

	if opts.OnlyMine && opts.UserID > 0 {
		b.where.WriteString(" AND s.user_id = " + b.placeholder(opts.UserID))
	}

	b.tagGroup(set)
	b.authorGroup(set)
	b.mentionsGroup(set)
	b.searchGroup(set)
	b.singletonGroups(set)

	if len(b.groups) > 0 {
		operator := " AND "
		if set.Logic(filter.GlobalLogic) == filter.LogicOr {
			operator = " OR "
		}
		b.where.WriteString(" AND (" + strings.Join(b.groups, operator) + ")")
	}

	return Compiled{Where: b.where.String(), Params: b.params}
}

func (b *builder) tagGroup(set filter.Set) {
	tags := trimmed(set.Values(filter.Tags))
	if len(tags) == 0 {
		return
	}
	for i, tag := range tags {
		tags[i] = strings.TrimPrefix(tag, "#")
	}

	var condition string
	if set.Logic(filter.TagLogic) == filter.LogicAnd {
		conditions := make([]string, 0, len(tags))
		for _, tag := range tags {
			conditions = append(conditions, b.placeholder(tag)+" = ANY(s.tags)")
		}
		condition = strings.Join(conditions, " AND ")
	} else {
		placeholders := make([]string, 0, len(tags))
		for _, tag := range tags {
			placeholders = append(placeholders, b.placeholder(tag))
		}
		condition = "s.tags && ARRAY[" + strings.Join(placeholders, ",") + "]"
	}
	b.groups = append(b.groups, "("+condition+")")
}

func (b *builder) authorGroup(set filter.Set) {
	tokens := trimmed(set.Values(filter.Author))
	if len(tokens) == 0 {
		return
	}
	// Match by resolved numeric id, never by raw username: immune to string
	// injection and stable across renames.
	ids := make([]int64, 0, len(tokens))
	for _, token := range tokens {
		if id, ok := filter.ParseAuthorToken(token); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}

	var condition string
	if set.Logic(filter.AuthorLogic) == filter.LogicAnd {
		conditions := make([]string, 0, len(ids))
		for _, id := range ids {
			conditions = append(conditions, "s.user_id = "+b.placeholder(id))
		}
		condition = strings.Join(conditions, " AND ")
	} else {
		placeholders := make([]string, 0, len(ids))
		for _, id := range ids {
			placeholders = append(placeholders, b.placeholder(id))
		}
		condition = "s.user_id IN (" + strings.Join(placeholders, ",") + ")"
	}
	b.groups = append(b.groups, "("+condition+")")
}

func (b *builder) mentionsGroup(set filter.Set) {
	tokens := trimmed(set.Values(filter.Mentions))
	if len(tokens) == 0 {
		return
	}
	// Approximate: a substring match over content and title, not a parsed
	// mention relation. A post merely containing the username matches.
	conditions := make([]string, 0, len(tokens))
	for _, token := range tokens {
		username := filter.MentionUsername(token)
		p := b.placeholder("%" + username + "%")
		conditions = append(conditions, "(s.submission_name ILIKE "+p+" OR s.submission_title ILIKE "+p+")")
	}
	operator := " OR "
	if set.Logic(filter.MentionsLogic) == filter.LogicAnd {
		operator = " AND "
	}
	b.groups = append(b.groups, "("+strings.Join(conditions, operator)+")")
}

func (b *builder) searchGroup(set filter.Set) {
	raw, ok := set.First(filter.Search)
	if !ok || len(strings.TrimSpace(raw)) < 2 {
		return
	}
	terms := ParseSearchTerms(raw)
	if len(terms) == 0 {
		return
	}
	conditions := make([]string, 0, len(terms))
	for _, term := range terms {
		p := b.placeholder("%" + term + "%")
		conditions = append(conditions, "(LOWER(s.submission_name) LIKE "+p+" OR LOWER(s.submission_title) LIKE "+p+")")
	}
	operator := " OR "
	if set.Logic(filter.SearchLogic) == filter.LogicAnd {
		operator = " AND "
	}
	b.groups = append(b.groups, "("+strings.Join(conditions, operator)+")")
}

func (b *builder) singletonGroups(set filter.Set) {
	if value, ok := set.First(filter.Content); ok && value != "" {
		p := b.placeholder("%" + value + "%")
		b.groups = append(b.groups, "((s.submission_title ILIKE "+p+" OR s.submission_name ILIKE "+p+"))")
	}
	if value, ok := set.First(filter.Title); ok && value != "" {
		b.groups = append(b.groups, "(s.submission_title ILIKE "+b.placeholder("%"+value+"%")+")")
	}
	if value, ok := set.First(filter.URL); ok && value != "" {
		b.groups = append(b.groups, "(s.submission_url ILIKE "+b.placeholder("%"+value+"%")+")")
	}
	if value, ok := set.First(filter.DateFrom); ok && value != "" {
		b.groups = append(b.groups, "(s.submission_datetime >= "+b.placeholder(value)+")")
	}
	if value, ok := set.First(filter.DateTo); ok && value != "" {
		b.groups = append(b.groups, "(s.submission_datetime <= "+b.placeholder(value)+")")
	}
}

// ParseSearchTerms splits a search value into lowercase terms, honoring
// double-quoted phrases. Terms shorter than two characters are dropped.
func ParseSearchTerms(raw string) []string {
	var terms []string
	rest := raw
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		var term string
		if rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				term = rest[1:]
				rest = ""
			} else {
				term = rest[1 : 1+end]
				rest = rest[end+2:]
			}
		} else {
			end := strings.IndexAny(rest, " \t")
			if end < 0 {
				term = rest
				rest = ""
			} else {
				term = rest[:end]
				rest = rest[end+1:]
			}
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if len(term) >= 2 {
			terms = append(terms, term)
		}
	}
	return terms
}

func trimmed(values []string) []string {
	out := values[:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
