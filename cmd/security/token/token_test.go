package token

import (
	"strings"
	"testing"
)

func TestHashSHA256Hex(t *testing.T) {
	t.Parallel()

	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashSHA256Hex("abc"); got != want {
		t.Fatalf("HashSHA256Hex=%q want=%q", got, want)
	}
}

func TestFingerprint_Unkeyed(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	if got := Fingerprint("  "); got != "" {
		t.Fatalf("blank secret fingerprint=%q", got)
	}

	fp := Fingerprint("abc")
	if fp != "ba7816bf8f01" {
		t.Fatalf("Fingerprint=%q", fp)
	}
	if Fingerprint(" abc\n") != fp {
		t.Fatalf("surrounding whitespace changed the fingerprint")
	}
}

func TestFingerprint_Keyed(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	fp := Fingerprint("abc")
	if len(fp) != FingerprintLen {
		t.Fatalf("len=%d", len(fp))
	}
	if fp == HashSHA256Hex("abc")[:FingerprintLen] {
		t.Fatalf("keyed fingerprint fell back to plain sha256")
	}
	if fp != FingerprintWithKey("abc", []byte("0123456789abcdef0123456789abcdef")) {
		t.Fatalf("env key and explicit key disagree")
	}
	if strings.Contains(fp, "abc") {
		t.Fatalf("fingerprint leaks secret: %q", fp)
	}
}
