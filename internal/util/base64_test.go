package util

import "testing"

func TestBase64RoundTrip(t *testing.T) {
	tests := []struct {
		plain   string
		encoded string
	}{
		{"hello", "aGVsbG8="},
		{"ls\n", "bHMK"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := EncodeBase64(tt.plain); got != tt.encoded {
			t.Errorf("EncodeBase64(%q) = %q, want %q", tt.plain, got, tt.encoded)
		}
		got, err := DecodeBase64(tt.encoded)
		if err != nil {
			t.Fatalf("DecodeBase64(%q): %v", tt.encoded, err)
		}
		if got != tt.plain {
			t.Errorf("DecodeBase64(%q) = %q, want %q", tt.encoded, got, tt.plain)
		}
	}
}

func TestDecodeBase64Invalid(t *testing.T) {
	if _, err := DecodeBase64("!!!"); err == nil {
		t.Fatal("expected an error")
	}
}
