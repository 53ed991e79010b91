package sqlutil

import (
	"errors"
	"testing"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"user_data", "`user_data`"},
		{"select", "`select`"},         // reserved word
		{"first name", "`first name`"}, // space in name
		{"user`data", "`user``data`"},  // backtick in name
		{"", "``"},                     // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDialectQuoteIdentifier(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{Postgres, "posts", `"posts"`},
		{Postgres, `we"ird`, `"we""ird"`},
		{SQLite, "posts", `"posts"`},
		{MySQL, "posts", "`posts`"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name+"/"+tt.input, func(t *testing.T) {
			if got := tt.dialect.QuoteIdentifier(tt.input); got != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestQualifiedColumn(t *testing.T) {
	if got := Postgres.QualifiedColumn("posts", "id"); got != `"posts"."id"` {
		t.Errorf("unexpected qualified column %q", got)
	}
	if got := Postgres.QualifiedColumn("", "id"); got != `"id"` {
		t.Errorf("unexpected bare column %q", got)
	}
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]string{
		"pgx":      "postgres",
		"postgres": "postgres",
		"mysql":    "mysql",
		"sqlite":   "sqlite",
	} {
		d, ok := DialectFor(driver)
		if !ok || d.Name != want {
			t.Errorf("DialectFor(%q) = %q, %v; want %q", driver, d.Name, ok, want)
		}
	}
	if _, ok := DialectFor("oracle"); ok {
		t.Error("expected unknown driver to be rejected")
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "'hello'"},
		{"it's", "'it''s'"},
		{"", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteString(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidateAlias(t *testing.T) {
	valid := []string{"posts", "post_comments", "_tmp", "comments2"}
	for _, alias := range valid {
		if err := ValidateAlias(alias); err != nil {
			t.Errorf("ValidateAlias(%q) unexpected error: %v", alias, err)
		}
	}

	invalid := []string{"", "2posts", "posts;drop", "post comments", "select", "ORDER", `a"b`}
	for _, alias := range invalid {
		err := ValidateAlias(alias)
		var aliasErr *InvalidAliasError
		if !errors.As(err, &aliasErr) {
			t.Errorf("ValidateAlias(%q) expected InvalidAliasError, got %v", alias, err)
		}
	}
}
