package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello there", "hello there"},
		{"tags", "<b>promo</b> today", "promo today"},
		{"encoded tags", "&lt;script&gt;x&lt;/script&gt;ok", "xok"},
		{"control chars", "hi\x00\u200b there\r\n", "hi there"},
		{"space runs", "a    b\t\tc", "a b c"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
	}
	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Errorf("%s: Text(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	got, clipped := Truncate("olá mundo", 3)
	if !clipped || got != "olá" {
		t.Fatalf("Truncate = %q, %v", got, clipped)
	}
	got, clipped = Truncate("short", 10)
	if clipped || got != "short" {
		t.Fatalf("Truncate = %q, %v", got, clipped)
	}
}
