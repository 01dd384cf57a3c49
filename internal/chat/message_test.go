package chat

import (
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"simple", "hello", false},
		{"empty", "", true},
		{"max bytes exceeded", strings.Repeat("a", MaxMessageBytes+1), true},
		{"max chars exceeded", strings.Repeat("値", MaxTextChars+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"unicode within limits", strings.Repeat("値", 100), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.text)
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error for %s: %v", tc.name, err)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("expected role %q to be valid", r)
		}
	}
	if Role("moderator").Valid() {
		t.Error("expected unknown role to be invalid")
	}
}

func TestPreview(t *testing.T) {
	short := "a short reply"
	if got := preview(short); got != short {
		t.Errorf("expected short text unchanged, got %q", got)
	}

	long := strings.Repeat("x", 500)
	got := preview(long)
	if len([]rune(got)) != 121 { // 120 runes + ellipsis
		t.Errorf("expected truncated preview of 121 runes, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("expected preview to end with ellipsis")
	}
}
