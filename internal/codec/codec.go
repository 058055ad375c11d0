// Package codec performs reversible obfuscation of personally identifying
// form fields before they leave memory for any persistent store.
//
// Values are encrypted per field with AES-GCM and stored as base64 text under
// a versioned prefix, so a reader can tell an encoded value from one that was
// degraded to plaintext. Data survival takes priority over
// confidentiality-at-rest: a field that cannot be encoded is stored as-is
// rather than dropped, and a field that cannot be decoded is returned as
// stored with the record flagged for observability.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// prefix marks an encoded field value. The version tag leaves room for a
// future scheme change without breaking old rows.
const prefix = "enc:v1:"

// sensitiveFields is the fixed set of answer keys that must never reach a
// store in plaintext.
var sensitiveFields = []string{
	"patientName",
	"idNumber",
	"contactNumber",
	"email",
	"physicalAddress",
	"postalAddress",
}

type Codec struct {
	aead cipher.AEAD
}

// DeriveKey derives a 32-byte codec key from a passphrase and salt.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// New builds a codec from an AES key (16, 24 or 32 bytes).
func New(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// SensitiveFields returns the keys the codec transforms.
func SensitiveFields() []string {
	out := make([]string, len(sensitiveFields))
	copy(out, sensitiveFields)
	return out
}

// Encode returns a copy of rec with every sensitive field encrypted and
// Encrypted set. A field that fails to encode is kept in plaintext; the
// record is still marked Encrypted so Decode runs on the fields that did
// transform.
func (c *Codec) Encode(rec models.FormRecord) models.FormRecord {
	out := rec.Clone()
	if out.Fields == nil {
		out.Encrypted = true
		return out
	}
	for _, key := range sensitiveFields {
		v, ok := out.Fields[key]
		if !ok || v == "" || strings.HasPrefix(v, prefix) {
			continue
		}
		enc, err := c.encryptString(v)
		if err != nil {
			// Keep the plaintext rather than lose the answer.
			continue
		}
		out.Fields[key] = enc
	}
	out.Encrypted = true
	return out
}

// Decode reverses Encode. It is applied only to records carrying
// Encrypted=true; per-field failures leave the stored value in place and set
// DecryptionFailed, never aborting the whole read.
func (c *Codec) Decode(rec models.FormRecord) models.FormRecord {
	if !rec.Encrypted {
		return rec
	}
	out := rec.Clone()
	for _, key := range sensitiveFields {
		v, ok := out.Fields[key]
		if !ok || !strings.HasPrefix(v, prefix) {
			continue
		}
		plain, err := c.decryptString(v)
		if err != nil {
			out.DecryptionFailed = true
			continue
		}
		out.Fields[key] = plain
	}
	out.Encrypted = false
	return out
}

func (c *Codec) encryptString(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) decryptString(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc, prefix))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
