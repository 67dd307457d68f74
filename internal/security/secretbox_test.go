package security

import (
	"encoding/base64"
	"errors"
	"testing"
)

func newTestBox(t *testing.T) *SecretBox {
	t.Helper()
	key, err := GenerateDataKey()
	if err != nil {
		t.Fatalf("GenerateDataKey: %v", err)
	}
	box, err := NewSecretBox(key)
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	return box
}

func TestSecretBox_SealOpen(t *testing.T) {
	box := newTestBox(t)
	sealed, err := box.Seal([]byte("JBSWY3DPEHPK3PXP"), []byte("acct-1"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "JBSWY3DPEHPK3PXP" {
		t.Fatal("Seal returned plaintext")
	}
	got, err := box.Open(sealed, []byte("acct-1"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != "JBSWY3DPEHPK3PXP" {
		t.Errorf("Open = %q", got)
	}
}

func TestSecretBox_NonceIsRandom(t *testing.T) {
	box := newTestBox(t)
	a, _ := box.Seal([]byte("same"), nil)
	b, _ := box.Seal([]byte("same"), nil)
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestSecretBox_WrongAdditionalData(t *testing.T) {
	box := newTestBox(t)
	sealed, _ := box.Seal([]byte("secret"), []byte("acct-1"))
	if _, err := box.Open(sealed, []byte("acct-2")); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Errorf("Open with wrong AD err = %v, want ErrSealedDataCorrupt", err)
	}
}

func TestSecretBox_Corrupt(t *testing.T) {
	box := newTestBox(t)
	for _, in := range []string{"not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := box.Open(in, nil); !errors.Is(err, ErrSealedDataCorrupt) {
			t.Errorf("Open(%q) err = %v, want ErrSealedDataCorrupt", in, err)
		}
	}
	other := newTestBox(t)
	sealed, _ := box.Seal([]byte("secret"), nil)
	if _, err := other.Open(sealed, nil); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Errorf("Open with other key err = %v", err)
	}
}

func TestNewSecretBox_KeyLength(t *testing.T) {
	if _, err := NewSecretBox(make([]byte, 16)); !errors.Is(err, ErrInvalidDataKey) {
		t.Errorf("16-byte key err = %v, want ErrInvalidDataKey", err)
	}
}

func TestParseDataKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	for _, s := range []string{base64.StdEncoding.EncodeToString(key), base64.RawURLEncoding.EncodeToString(key)} {
		got, err := ParseDataKey(s)
		if err != nil {
			t.Fatalf("ParseDataKey(%q): %v", s, err)
		}
		if string(got) != string(key) {
			t.Error("decoded key mismatch")
		}
	}
	if _, err := ParseDataKey(base64.StdEncoding.EncodeToString(make([]byte, 31))); !errors.Is(err, ErrInvalidDataKey) {
		t.Errorf("short key err = %v", err)
	}
	if _, err := ParseDataKey("%%%"); !errors.Is(err, ErrInvalidDataKey) {
		t.Errorf("garbage err = %v", err)
	}
}
