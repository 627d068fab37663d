package store

import (
	"database/sql"
	"encoding/json"
	"testing"
)

func TestDecodeTags(t *testing.T) {
	tags := decodeTags(1, sql.NullString{Valid: true, String: `["golang","redis"]`})
	if len(tags) != 2 || tags[0] != "golang" {
		t.Fatalf("unexpected tags: %v", tags)
	}

	if tags := decodeTags(1, sql.NullString{}); len(tags) != 0 {
		t.Fatalf("NULL tags should decode to an empty slice, got %v", tags)
	}

	// Malformed JSON degrades to empty, never errors.
	if tags := decodeTags(1, sql.NullString{Valid: true, String: `{broken`}); len(tags) != 0 {
		t.Fatalf("malformed tags should decode to an empty slice, got %v", tags)
	}
}

func TestDecodeRepliesToleratesBadTimestamps(t *testing.T) {
	raw := []byte(`[
		{"submission_id": 2, "submission_name": "ok reply", "user_id": 1, "author": "alice",
		 "submission_datetime": "2026-08-30T10:00:00Z"},
		{"submission_id": 3, "submission_name": "bad ts", "user_id": 1, "author": "alice",
		 "submission_datetime": "not-a-date"},
		{"submission_id": 4, "submission_name": "no ts", "user_id": 1, "author": "alice"}
	]`)

	replies := decodeReplies(1, raw)
	if len(replies) != 3 {
		t.Fatalf("every reply should survive, got %d", len(replies))
	}
	if replies[0].Datetime == nil {
		t.Fatalf("valid timestamp should parse")
	}
	if replies[1].Datetime != nil || replies[2].Datetime != nil {
		t.Fatalf("bad timestamps should degrade to nil, got %v %v",
			replies[1].Datetime, replies[2].Datetime)
	}
	if replies[1].Name != "bad ts" {
		t.Fatalf("the rest of the row should be intact: %+v", replies[1])
	}
}

func TestDecodeRepliesMalformedArray(t *testing.T) {
	if replies := decodeReplies(1, []byte(`{not an array`)); replies != nil {
		t.Fatalf("malformed replies should decode to nil, got %v", replies)
	}
}

func TestParseReplyDatetimeLayouts(t *testing.T) {
	cases := []string{
		`"2026-08-30T10:00:00.123456Z"`,
		`"2026-08-30T10:00:00.123456"`,
		`"2026-08-30 10:00:00.123456+00"`,
	}
	for _, raw := range cases {
		msg := json.RawMessage(raw)
		if got := parseReplyDatetime(1, 2, &msg); got == nil {
			t.Errorf("parseReplyDatetime(%s) should parse", raw)
		}
	}

	zero := json.RawMessage(`"0"`)
	if got := parseReplyDatetime(1, 2, &zero); got != nil {
		t.Errorf(`"0" should be treated as missing, got %v`, got)
	}
}
