package db

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// rewritePlaceholders
// ---------------------------------------------------------------------------

func TestRewritePlaceholders_Empty(t *testing.T) {
	if got := rewritePlaceholders(""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestRewritePlaceholders_NoPlaceholders(t *testing.T) {
	in := "SELECT 1"
	if got := rewritePlaceholders(in); got != in {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestRewritePlaceholders_Single(t *testing.T) {
	got := rewritePlaceholders("SELECT * FROM t WHERE id = ?")
	want := "SELECT * FROM t WHERE id = $1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewritePlaceholders_Multiple(t *testing.T) {
	got := rewritePlaceholders("INSERT INTO t (a, b, c) VALUES (?, ?, ?)")
	want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewritePlaceholders_QuestionInStringLiteral(t *testing.T) {
	// ? inside a quoted string must not be rewritten.
	got := rewritePlaceholders("SELECT '?' AS q FROM t WHERE id = ?")
	want := "SELECT '?' AS q FROM t WHERE id = $1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewritePlaceholders_EscapedQuote(t *testing.T) {
	// '' inside a string is an escaped single-quote; the ? after closing ' is a placeholder.
	got := rewritePlaceholders("SELECT 'it''s' WHERE x = ?")
	want := "SELECT 'it''s' WHERE x = $1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewritePlaceholders_MultipleStringsAndPlaceholders(t *testing.T) {
	got := rewritePlaceholders("SELECT 'a?b' WHERE c = ? AND d = ?")
	want := "SELECT 'a?b' WHERE c = $1 AND d = $2"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Dialect helpers -- CompatDB with nil DB is safe; these methods only inspect
// d.Dialect and build SQL strings.
// ---------------------------------------------------------------------------

func sqliteDB() *CompatDB { return &CompatDB{Dialect: DialectSQLite} }
func pgDB() *CompatDB     { return &CompatDB{Dialect: DialectPostgres} }

func TestIsPostgres(t *testing.T) {
	if sqliteDB().IsPostgres() {
		t.Error("SQLite CompatDB.IsPostgres() should be false")
	}
	if !pgDB().IsPostgres() {
		t.Error("Postgres CompatDB.IsPostgres() should be true")
	}
}

func TestBeginTxSQL(t *testing.T) {
	if got := sqliteDB().BeginTxSQL(); got != "BEGIN IMMEDIATE" {
		t.Errorf("SQLite = %q, want BEGIN IMMEDIATE", got)
	}
	if got := pgDB().BeginTxSQL(); got != "BEGIN" {
		t.Errorf("Postgres = %q, want BEGIN", got)
	}
}

func TestCharLengthExpr(t *testing.T) {
	if got := sqliteDB().CharLengthExpr("text"); got != "length(text)" {
		t.Errorf("SQLite CharLengthExpr = %q", got)
	}
	if got := pgDB().CharLengthExpr("text"); got != "char_length(text)" {
		t.Errorf("Postgres CharLengthExpr = %q", got)
	}
}

func TestClaimLockSuffix(t *testing.T) {
	if got := sqliteDB().ClaimLockSuffix(); got != "" {
		t.Errorf("SQLite ClaimLockSuffix = %q, want empty", got)
	}
	if got := pgDB().ClaimLockSuffix(); !strings.Contains(got, "SKIP LOCKED") {
		t.Errorf("Postgres ClaimLockSuffix = %q: expected SKIP LOCKED", got)
	}
}

// ---------------------------------------------------------------------------
// Timestamps
// ---------------------------------------------------------------------------

func TestFormatTime_FixedWidthSortsLexically(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	b := FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 1000, time.UTC))
	if len(a) != len(b) {
		t.Fatalf("widths differ: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestFormatTime_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	got := FormatTime(time.Date(2024, 5, 1, 12, 0, 0, 0, loc))
	if got != "2024-05-01T11:00:00.000000Z" {
		t.Errorf("got %q", got)
	}
}

func TestParseTime(t *testing.T) {
	if ParseTime(sql.NullString{}) != nil {
		t.Error("NULL should parse to nil")
	}
	want := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	got := ParseTime(sql.NullString{String: "2024-05-01T11:00:00.000000Z", Valid: true})
	if got == nil || !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	got = ParseTime(sql.NullString{String: "2024-05-01T11:00:00Z", Valid: true})
	if got == nil || !got.Equal(want) {
		t.Errorf("RFC3339 fallback: got %v, want %v", got, want)
	}
	if ParseTime(sql.NullString{String: "yesterday", Valid: true}) != nil {
		t.Error("garbage should parse to nil")
	}
}
