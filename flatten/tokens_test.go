package flatten

import "testing"

func TestParseTokens_QuotedAndRawLiterals(t *testing.T) {
	row, err := ParseTokens([]string{
		"status", `"ok"`,
		"retries", "3",
		"enabled", "true",
		"traceId", "null",
	})
	if err != nil {
		t.Fatalf("ParseTokens: %v", err)
	}
	if got := pathSet(row, "status"); len(got) != 1 || got[0] != "ok" {
		t.Errorf("status = %v, want [ok] (unquoted)", got)
	}
	if got := pathSet(row, "enabled"); len(got) != 1 || got[0] != "true" {
		t.Errorf("enabled = %v, want [true]", got)
	}
	if _, ok := row.Paths["traceId"]; !ok {
		t.Errorf("null-valued path should still be observed")
	}
}

func TestParseTokens_NumberDualEncoding(t *testing.T) {
	row, err := ParseTokens([]string{"amount", "42.5"})
	if err != nil {
		t.Fatalf("ParseTokens: %v", err)
	}
	got := pathSet(row, "amount")
	if len(got) != 2 {
		t.Fatalf("numeric token should produce 2 EventFields, got %v", got)
	}
	if got[0] != "42.5" {
		t.Errorf("first value should be the raw token text, got %q", got[0])
	}
}

func TestParseTokens_OddLength(t *testing.T) {
	if _, err := ParseTokens([]string{"status"}); err == nil {
		t.Errorf("odd-length token list should be rejected")
	}
}

func TestParseTokens_InvalidToken(t *testing.T) {
	if _, err := ParseTokens([]string{"status", "not-quoted-not-a-number"}); err == nil {
		t.Errorf("an unquoted non-literal, non-numeric token should be rejected")
	}
}
