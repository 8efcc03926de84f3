// Package secure implements at-rest encryption for aegis stores.
//
// Every persistent store serializes to JSON and is wrapped in an AES-256-GCM
// envelope keyed by a per-store subkey derived from the master key with
// argon2id. A failed decrypt is a corrupt-store condition and is never
// silently repaired.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"aegis/internal/aerr"

	"golang.org/x/crypto/argon2"
)

// KDF parameters. Memory cost is 64 MiB per the persistence contract.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
	kdfKeyLen  = 32

	gcmNonceSize = 12
	gcmTagSize   = 16

	// MinMasterKeyLen is enforced at startup.
	MinMasterKeyLen = 32
)

// Envelope is the on-disk form of an encrypted blob. All fields are
// lowercase hex. Data holds ciphertext without the auth tag; the tag is
// carried separately so a truncated file fails loudly.
type Envelope struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Codec seals and opens envelopes for one store.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the store subkey from the master key and salt.
// Returns ConfigError when the master key is missing or too short.
func NewCodec(masterKey []byte, storeSalt string) (*Codec, error) {
	const op = "secure.NewCodec"
	if len(masterKey) < MinMasterKeyLen {
		return nil, aerr.Errorf(aerr.KindConfig, op,
			"master key must be at least %d bytes, got %d", MinMasterKeyLen, len(masterKey))
	}

	key := argon2.IDKey(masterKey, []byte(storeSalt), kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}
	return &Codec{aead: aead}, nil
}

// DeriveKey produces a 32-byte subkey of the master key for uses outside
// the AEAD path, such as token signing. Same KDF parameters as NewCodec.
func DeriveKey(masterKey []byte, purpose string) ([]byte, error) {
	if len(masterKey) < MinMasterKeyLen {
		return nil, aerr.Errorf(aerr.KindConfig, "secure.DeriveKey",
			"master key must be at least %d bytes, got %d", MinMasterKeyLen, len(masterKey))
	}
	return argon2.IDKey(masterKey, []byte(purpose), kdfTime, kdfMemory, kdfThreads, kdfKeyLen), nil
}

// Seal encrypts payload into an envelope with a fresh random nonce.
func (c *Codec) Seal(payload []byte) (*Envelope, error) {
	const op = "secure.Seal"
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, aerr.E(aerr.KindInternal, op, err)
	}

	sealed := c.aead.Seal(nil, nonce, payload, nil)
	if len(sealed) < gcmTagSize {
		return nil, aerr.E(aerr.KindInternal, op, "sealed output shorter than tag")
	}
	ct := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return &Envelope{
		IV:      hex.EncodeToString(nonce),
		AuthTag: hex.EncodeToString(tag),
		Data:    hex.EncodeToString(ct),
	}, nil
}

// Open authenticates and decrypts an envelope. Any malformed field or tag
// mismatch yields PersistenceCorrupt.
func (c *Codec) Open(env *Envelope) ([]byte, error) {
	const op = "secure.Open"
	if env == nil || env.IV == "" || env.AuthTag == "" || env.Data == "" {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "envelope missing required fields")
	}

	nonce, err := hex.DecodeString(env.IV)
	if err != nil || len(nonce) < gcmNonceSize || len(nonce) > 16 {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "invalid iv")
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "iv length mismatch")
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != gcmTagSize {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "invalid auth tag")
	}
	ct, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "invalid ciphertext encoding")
	}

	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "authentication failed", err)
	}
	return plain, nil
}

// SealJSON marshals v and seals it.
func (c *Codec) SealJSON(v any) (*Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, aerr.E(aerr.KindInternal, "secure.SealJSON", err)
	}
	return c.Seal(payload)
}

// OpenJSON opens env and unmarshals into v.
func (c *Codec) OpenJSON(env *Envelope, v any) error {
	plain, err := c.Open(env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return aerr.E(aerr.KindPersistenceCorrupt, "secure.OpenJSON", "payload is not valid JSON", err)
	}
	return nil
}

// WriteFile atomically replaces path with the sealed payload: write to a
// temp file in the same directory, fsync, then rename.
func (c *Codec) WriteFile(path string, payload []byte) error {
	const op = "secure.WriteFile"
	env, err := c.Seal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return aerr.E(aerr.KindInternal, op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return aerr.E(aerr.KindInternal, op, err)
	}
	if err := tmp.Close(); err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	return nil
}

// ReadFile loads and opens an envelope file. A missing file returns
// NotFound so callers can distinguish first boot from corruption.
func (c *Codec) ReadFile(path string) ([]byte, error) {
	const op = "secure.ReadFile"
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, aerr.E(aerr.KindNotFound, op, path)
		}
		return nil, aerr.E(aerr.KindInternal, op, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, aerr.E(aerr.KindPersistenceCorrupt, op, "file is not a valid envelope", err)
	}
	return c.Open(&env)
}
