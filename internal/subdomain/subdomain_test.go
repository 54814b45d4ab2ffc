package subdomain

import (
	"strings"
	"testing"
)

func Test_valid_accepts_boundary_lengths(t *testing.T) {
	if !Valid("abc") {
		t.Error("length 3 should be accepted")
	}
	if !Valid(strings.Repeat("a", 63)) {
		t.Error("length 63 should be accepted")
	}
}

func Test_valid_rejects_out_of_range_lengths(t *testing.T) {
	if Valid("ab") {
		t.Error("length 2 should be rejected")
	}
	if Valid(strings.Repeat("a", 64)) {
		t.Error("length 64 should be rejected")
	}
	if Valid("") {
		t.Error("empty label should be rejected")
	}
}

func Test_valid_hyphen_placement(t *testing.T) {
	if !Valid("my-app") {
		t.Error("interior hyphen should be accepted")
	}
	if !Valid("a-b-c-d") {
		t.Error("multiple interior hyphens should be accepted")
	}
	if Valid("-app") {
		t.Error("leading hyphen should be rejected")
	}
	if Valid("app-") {
		t.Error("trailing hyphen should be rejected")
	}
}

func Test_valid_rejects_bad_characters(t *testing.T) {
	for _, label := range []string{"MyApp", "my_app", "my.app", "my app", "app!"} {
		if Valid(label) {
			t.Errorf("%q should be rejected", label)
		}
	}
}

func Test_mint_shape(t *testing.T) {
	for i := 0; i < 100; i++ {
		m := Mint()
		if len(m) != MintedLength {
			t.Fatalf("expected length %d, got %d (%q)", MintedLength, len(m), m)
		}
		for _, c := range m {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
				t.Fatalf("unexpected character %q in minted label %q", c, m)
			}
		}
		if !Valid(m) {
			t.Fatalf("minted label %q fails validation", m)
		}
	}
}

func Test_mint_is_not_constant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[Mint()] = true
	}
	if len(seen) < 2 {
		t.Error("expected distinct minted labels")
	}
}
