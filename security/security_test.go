package security

import (
	"bytes"
	"crypto/md5"
	"crypto/rc4"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
)

func encryptDict(v int, cfm string) *raw.DictObj {
	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("V", raw.NumberInt(int64(v)))
	if cfm != "" {
		std := raw.Dict()
		std.Set("CFM", raw.NameLiteral(cfm))
		cf := raw.Dict()
		cf.Set("StdCF", std)
		enc.Set("CF", cf)
		enc.Set("StmF", raw.NameLiteral("StdCF"))
		enc.Set("StrF", raw.NameLiteral("StdCF"))
	}
	return enc
}

func TestRC4MatchesObjectKeyAlgorithm(t *testing.T) {
	fileKey := []byte{1, 2, 3, 4, 5}
	h, err := NewKeyHandler(encryptDict(1, ""), fileKey)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	plain := []byte("secret data")

	// Encrypt independently with the documented key construction.
	seed := append(append([]byte{}, fileKey...), 5, 0, 0, 0, 0)
	sum := md5.Sum(seed)
	c, _ := rc4.NewCipher(sum[:10])
	want := make([]byte, len(plain))
	c.XORKeyStream(want, plain)

	got, err := h.Decrypt(5, 0, want, DataClassString)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypt = %q, want %q", got, plain)
	}
}

func TestAESRoundTrip(t *testing.T) {
	h, err := NewKeyHandler(encryptDict(4, "AESV2"), bytes.Repeat([]byte{7}, 16))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	plain := []byte("stream payload that spans more than one block")
	enc, err := h.Encrypt(12, 0, plain, DataClassStream)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(enc, plain) {
		t.Fatalf("encrypt returned plaintext")
	}
	dec, err := h.Decrypt(12, 0, enc, DataClassStream)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("round trip = %q", dec)
	}
}

func TestIdentityCryptFilterPassesThrough(t *testing.T) {
	enc := encryptDict(4, "AESV2")
	enc.Set("StrF", raw.NameLiteral("Identity"))
	h, err := NewKeyHandler(enc, bytes.Repeat([]byte{1}, 16))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	out, _ := h.Decrypt(1, 0, []byte("plain"), DataClassString)
	if string(out) != "plain" {
		t.Fatalf("identity filter changed data: %q", out)
	}
}

func TestKeyHandlerRejectsBadInput(t *testing.T) {
	if _, err := NewKeyHandler(encryptDict(1, ""), nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := NewKeyHandler(encryptDict(5, "AESV3"), []byte("short")); err == nil {
		t.Fatalf("expected error for short AES-256 key")
	}
	h, err := NewKeyHandler(nil, nil)
	if err != nil || h.IsEncrypted() {
		t.Fatalf("nil encrypt dict should give noop handler")
	}
}
