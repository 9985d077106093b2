package codec

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"127.0.0.1:3000",
		"localhost",
		"my-service_01.internal",
		"[::1]:8080",
		"weird/chars?in&here",
		"",
		"plain-id",
	}
	for _, c := range cases {
		enc := Encode(c)
		if got := Decode(enc); got != c {
			t.Errorf("Decode(Encode(%q)) = %q, want %q", c, got, c)
		}
	}
}

func TestEncodeAlreadySafe(t *testing.T) {
	s := "abc-123_def.ghi"
	if got := Encode(s); got != s {
		t.Errorf("Encode(%q) = %q, want unchanged", s, got)
	}
}

func TestEncodeKnownExample(t *testing.T) {
	got := Encode("127.0.0.1:3000")
	want := "127.0.0.1.e058.3000"
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestDecodeKnownExample(t *testing.T) {
	got := Decode("127.0.0.1.e058.3000")
	want := "127.0.0.1:3000"
	if got != want {
		t.Errorf("Decode() = %q, want %q", got, want)
	}
}

func TestRoundTripHighCodepoints(t *testing.T) {
	// codepoints above 999 still round-trip even though Encode pads to 3.
	s := string(rune(1200)) + "x"
	if got := Decode(Encode(s)); got != s {
		t.Errorf("Decode(Encode(%q)) = %q, want %q", s, got, s)
	}
}
