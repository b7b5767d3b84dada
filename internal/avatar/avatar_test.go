package avatar

import "testing"

func TestAssign_EmptyUsernameFallsBack(t *testing.T) {
	for i := 0; i < 3; i++ {
		got := Assign("")
		if got.Initial != "?" || got.Color != FallbackColor {
			t.Fatalf("unexpected fallback: %+v", got)
		}
	}
}

func TestAssign_KnownPaletteSlots(t *testing.T) {
	cases := []struct {
		name    string
		initial string
		color   string
	}{
		{"a", "A", "#FFC0CB"},
		{"b", "B", "#20B2AA"},
		{"ab", "A", "#90EE90"},
	}
	for _, tc := range cases {
		got := Assign(tc.name)
		if got.Initial != tc.initial || got.Color != tc.color {
			t.Fatalf("Assign(%q) = %+v, want {%s %s}", tc.name, got, tc.initial, tc.color)
		}
	}
}

func TestAssign_Deterministic(t *testing.T) {
	names := []string{"alice", "Bob", "ünal", "a very long username with spaces 1234567890"}
	for _, n := range names {
		first := Assign(n)
		for i := 0; i < 10; i++ {
			if again := Assign(n); again != first {
				t.Fatalf("Assign(%q) changed: %+v then %+v", n, first, again)
			}
		}
	}
	if Assign("ünal").Initial != "Ü" {
		t.Fatalf("initial should be upper-cased first rune")
	}
}

func TestIndex_InPaletteRange(t *testing.T) {
	for _, n := range []string{"x", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "😀emoji"} {
		i := index(n)
		if i < 0 || i >= len(palette) {
			t.Fatalf("index(%q)=%d out of range", n, i)
		}
	}
}
