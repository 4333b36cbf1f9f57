// Package secretbox implements password-derived authenticated encryption for
// session documents, plus generation of family ids and human-typed family codes.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/pbkdf2"

	"famtable/internal/errs"
	"famtable/internal/model"
)

// Params
const (
	keyLen   = 32 // AES-256
	saltLen  = 16
	iters    = 150_000 // PBKDF2-SHA256 rounds; the family code is short and human-typed
	envParts = 3
)

// codeAlphabet excludes visually ambiguous symbols (0/O, 1/I). 32 symbols,
// 6 chars ≈ 30 bits — deliberately low entropy, accepted for usability and
// offset by the slow KDF.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLen is the length of a generated family code.
const CodeLen = 6

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// deriveKey stretches a password into an AES key with a per-envelope salt.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iters, keyLen, sha256.New)
}

// Encrypt serializes v as JSON and seals it under a key derived from password.
// A fresh salt and nonce are generated on every call, so two envelopes for
// identical input never match.
func Encrypt(v any, password string) (model.Envelope, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	salt, err := randBytes(saltLen)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce, err := randBytes(aead.NonceSize())
	if err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, plain, nil)

	// Self-describing envelope: any device needs only the password.
	enc := base64.StdEncoding
	return model.Envelope(strings.Join([]string{
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(ct),
	}, ".")), nil
}

// Decrypt opens an envelope into out. A wrong password, a truncated envelope
// and a tampered ciphertext all fail the same way, with errs.ErrDecryption.
func Decrypt(env model.Envelope, password string, out any) error {
	parts := strings.Split(string(env), ".")
	if len(parts) != envParts {
		return errs.ErrDecryption
	}
	enc := base64.StdEncoding
	salt, err := enc.DecodeString(parts[0])
	if err != nil || len(salt) != saltLen {
		return errs.ErrDecryption
	}
	nonce, err := enc.DecodeString(parts[1])
	if err != nil {
		return errs.ErrDecryption
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return errs.ErrDecryption
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return errs.ErrDecryption
	}
	aead, err := cipher.NewGCM(block)
	if err != nil || len(nonce) != aead.NonceSize() {
		return errs.ErrDecryption
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return errs.ErrDecryption
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return errs.ErrDecryption
	}
	return nil
}

// GenerateFamilyCode produces a short family code from the restricted
// alphabet. The code doubles as the encryption password and is not
// user-changeable.
func GenerateFamilyCode() (string, error) {
	b, err := randBytes(CodeLen)
	if err != nil {
		return "", err
	}
	out := make([]byte, CodeLen)
	for i, c := range b {
		out[i] = codeAlphabet[int(c)%len(codeAlphabet)]
	}
	return string(out), nil
}

// NewFamilyID mints a random family id. No server-side uniqueness check is
// performed before first write; collision probability is accepted as negligible.
func NewFamilyID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
