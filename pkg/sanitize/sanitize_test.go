package sanitize

import (
	"regexp"
	"strings"
	"testing"
)

func TestCleanInput(t *testing.T) {
	policy := NewPolicy()
	cases := map[string]string{
		"  admin  ":           "admin",
		"<b>bob</b>":          "bob",
		"javascript:alert(1)": "alert(1)",
		"x onclick=y":         "x y",
		"a&b":                 "a&b",
		"ab\tc":               "abc",
		"VBScript:run":        "run",
	}

	for input, want := range cases {
		if got := policy.CleanInput(input); got != want {
			t.Fatalf("CleanInput(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidateNoXSS(t *testing.T) {
	policy := NewPolicy()

	for _, safe := range []string{"admin", "jane.doe@example.com", "stock admin 2"} {
		if !policy.ValidateNoXSS(safe) {
			t.Fatalf("expected %q to be accepted", safe)
		}
	}
	for _, unsafe := range []string{"<img src=x>", "JavaScript:void(0)", "data:text/html", "x onload=1", "&#x3C;", `a\b`, "%3Cscript"} {
		if policy.ValidateNoXSS(unsafe) {
			t.Fatalf("expected %q to be rejected", unsafe)
		}
	}
}

func TestCleanFields(t *testing.T) {
	cleaned := CleanFields(NewPolicy(), map[string]any{
		"username": " <i>root</i> ",
		"age":      42,
	})

	if cleaned["username"] != "root" {
		t.Fatalf("expected cleaned username, got %v", cleaned["username"])
	}
	if cleaned["age"] != 42 {
		t.Fatalf("expected non-string values untouched, got %v", cleaned["age"])
	}
	if CleanFields(NewPolicy(), nil) != nil {
		t.Fatal("expected nil fields to stay nil")
	}
}

func TestValidateFields(t *testing.T) {
	policy := NewPolicy()

	if err := ValidateFields(policy, map[string]any{"username": "root", "roles": 42}); err != nil {
		t.Fatalf("expected clean fields to pass, got %v", err)
	}
	err := ValidateFields(policy, map[string]any{"b": `x\y`, "a": "%3Cscript", "c": 1})
	if err == nil || !strings.Contains(err.Error(), `"a"`) {
		t.Fatalf("expected the first unsafe field in key order to be named, got %v", err)
	}
	if err := ValidateFields(policy, nil); err != nil {
		t.Fatalf("expected nil fields to pass, got %v", err)
	}
}

func TestRulesValidate(t *testing.T) {
	cases := []struct {
		name  string
		rules Rules
		value string
		ok    bool
	}{
		{"required empty", Rules{Required: true}, "", false},
		{"required present", Rules{Required: true}, "x", true},
		{"too short", Rules{MinLength: 3}, "ab", false},
		{"multibyte length", Rules{MaxLength: 2}, "管理", true},
		{"too long", Rules{MaxLength: 2}, "abc", false},
		{"pattern", Rules{Pattern: regexp.MustCompile(`^[a-z]+$`)}, "abc1", false},
		{"email ok", Rules{Email: true}, "a@b.co", true},
		{"email bad", Rules{Email: true}, "a@b", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rules.Validate(tc.value)
			if (err == nil) != tc.ok {
				t.Fatalf("Validate(%q) error = %v, want ok=%v", tc.value, err, tc.ok)
			}
		})
	}

	err := Rules{Required: true, Message: "username is required"}.Validate("")
	if err == nil || err.Error() != "username is required" {
		t.Fatalf("expected custom message, got %v", err)
	}
}
