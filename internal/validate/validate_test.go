package validate

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSKU(t *testing.T) {
	if s, ok := SKU("  PARAF-10 "); !ok || s != "PARAF-10" {
		t.Fatalf("got %q %v", s, ok)
	}
	for _, good := range []string{"a b", "CAFÉ-01", "x.y_z", "50%"} {
		if _, ok := SKU(good); !ok {
			t.Errorf("%q should be accepted", good)
		}
	}
	for _, bad := range []string{"", "   ", "x/y", "tab\tsku", strings.Repeat("é", 65)} {
		if _, ok := SKU(bad); ok {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

func TestDescriptionClampsOnRunes(t *testing.T) {
	long := strings.Repeat("a", 499) + "çãõ"
	got := Description(long)
	if !utf8.ValidString(got) {
		t.Fatal("clamp produced invalid UTF-8")
	}
	if utf8.RuneCountInString(got) != 500 || !strings.HasSuffix(got, "ç") {
		t.Fatalf("want 500 runes ending in ç, got %d", utf8.RuneCountInString(got))
	}
	if Description("  ação  ") != "ação" {
		t.Fatal("short text should only be trimmed")
	}
}

func TestPositive(t *testing.T) {
	for _, bad := range []string{"0", "-3", "", "abc", "1.5"} {
		if _, ok := Positive(bad); ok {
			t.Errorf("%q should be rejected", bad)
		}
	}
	if n, ok := Positive(" 7 "); !ok || n != 7 {
		t.Fatalf("got %d %v", n, ok)
	}
}

func TestNonNegative(t *testing.T) {
	if n, ok := NonNegative("", 5); !ok || n != 5 {
		t.Fatalf("empty should default, got %d %v", n, ok)
	}
	if n, ok := NonNegative("0", 5); !ok || n != 0 {
		t.Fatalf("zero allowed, got %d %v", n, ok)
	}
	if _, ok := NonNegative("-1", 5); ok {
		t.Fatal("negative rejected")
	}
}

func TestDirectionAndTab(t *testing.T) {
	if d, ok := Direction("SAIDA"); !ok || d != "saida" {
		t.Fatalf("got %q %v", d, ok)
	}
	if _, ok := Direction("transfer"); ok {
		t.Fatal("unknown direction accepted")
	}
	if Tab("chart") != "chart" || Tab("admin") != "inventory" {
		t.Fatal("tab normalisation broken")
	}
}
