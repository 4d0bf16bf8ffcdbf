package normalize

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"case and surrounding whitespace", "  NIKE Air Max ", "nike air max"},
		{"internal whitespace runs", "nike\t\tair \n max", "nike air max"},
		{"apostrophe joined", "Levi's 501 Jeans", "levis 501 jeans"},
		{"punctuation becomes separator", "iPhone-13/Pro_Max!!", "iphone 13 pro max"},
		{"decimal kept", "MacBook Pro 13.3\" Laptop", "macbook pro 13.3 laptop"},
		{"thousands separator kept", "Lot of 1,000 beads", "lot of 1,000 beads"},
		{"ampersand kept as token", "Bath&Body Works", "bath & body works"},
		{"trailing dot dropped", "Size 9.", "size 9"},
		{"fullwidth folded", "ＮＩＫＥ", "nike"},
		{"empty", "", ""},
		{"only punctuation", " -- !! ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.input)
			if got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestKey_Idempotent(t *testing.T) {
	inputs := []string{
		"NIKE Air Max",
		"  nike air max ",
		"Samsung Galaxy S21 (128GB) - Black",
		"1.'5 & 2,,3",
		"Ｃafé Crème 100%",
		"a+b#c&d",
		"i̇stanbul .5 5. 5.5",
		"Men's Grooming Kit — 3pc",
		"cafe'\u0301",
		"ABC'\u0301 shoes",
		"levi’\u0308s jeans",
	}

	for _, in := range inputs {
		once := Key(in)
		twice := Key(once)
		if once != twice {
			t.Errorf("Key not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func FuzzKey(f *testing.F) {
	for _, seed := range []string{"NIKE Air Max", "cafe'\u0301", "1.'5 & 2,,3", "Ｃafé Crème 100%"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Key(in)
		if twice := Key(once); once != twice {
			t.Errorf("Key not idempotent for %q: %q -> %q", in, once, twice)
		}
	})
}

func TestKey_EquivalentTitlesShareKey(t *testing.T) {
	if Key("NIKE Air Max") != Key("  nike air max ") {
		t.Errorf("expected equal keys, got %q and %q", Key("NIKE Air Max"), Key("  nike air max "))
	}
}

func TestTokens(t *testing.T) {
	got := Tokens(Key("Nike  Air-Max"))
	want := []string{"nike", "air", "max"}
	if len(got) != len(want) {
		t.Fatalf("Tokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tokens()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
