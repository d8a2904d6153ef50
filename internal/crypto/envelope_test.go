package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte(`{"frame":"data:image/jpeg;base64,abc","timestamp":123}`)
	secret := "0f1e2d3c4b5a69788796a5b4c3d2e1f0"

	envelope, err := Seal(plaintext, secret)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if parts := strings.Split(envelope, ":"); len(parts) != 4 {
		t.Fatalf("envelope has %d parts, want 4", len(parts))
	}

	got, err := Open(envelope, secret)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestSealIsRandomized(t *testing.T) {
	a, _ := Seal([]byte("same message"), "secret")
	b, _ := Seal([]byte("same message"), "secret")
	if a == b {
		t.Fatal("two seals of the same message produced identical envelopes")
	}
}

func TestOpenWrongSecret(t *testing.T) {
	envelope, _ := Seal([]byte("payload"), "right-secret")
	if _, err := Open(envelope, "wrong-secret"); err == nil {
		t.Fatal("Open() succeeded with the wrong secret")
	}
}

func TestOpenMalformed(t *testing.T) {
	cases := []string{
		"",
		"onlyonepart",
		"aa:bb:cc",
		"aa:bb:cc:dd:ee",
		"zz:zz:zz:zz", // not hex
	}
	for _, env := range cases {
		_, err := Open(env, "secret")
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("Open(%q) error = %v, want ErrMalformedEnvelope", env, err)
		}
	}
}
