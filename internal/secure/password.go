package secure

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"aegis/internal/aerr"

	"golang.org/x/crypto/argon2"
)

// Password hashing parameters. Kept separate from the store KDF so either
// can be tuned independently; both satisfy the >=64 MiB / t>=3 / p>=4 floor.
const (
	pwTime    = 3
	pwMemory  = 64 * 1024 // KiB
	pwThreads = 4
	pwSaltLen = 16
	pwKeyLen  = 32
)

// HashPassword returns an argon2id hash in PHC string format:
// $argon2id$v=19$m=...,t=...,p=...$salt$hash
func HashPassword(password string) (string, error) {
	salt := make([]byte, pwSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", aerr.E(aerr.KindInternal, "secure.HashPassword", err)
	}
	digest := argon2.IDKey([]byte(password), salt, pwTime, pwMemory, pwThreads, pwKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, pwMemory, pwTime, pwThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest)), nil
}

// VerifyPassword checks password against a PHC-encoded argon2id hash using a
// constant-time digest comparison.
func VerifyPassword(password, encoded string) (bool, error) {
	const op = "secure.VerifyPassword"
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, aerr.E(aerr.KindValidation, op, "not an argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, aerr.E(aerr.KindValidation, op, "bad version field")
	}
	var mem, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time, &threads); err != nil {
		return false, aerr.E(aerr.KindValidation, op, "bad parameter field")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, aerr.E(aerr.KindValidation, op, "bad salt encoding")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, aerr.E(aerr.KindValidation, op, "bad digest encoding")
	}

	got := argon2.IDKey([]byte(password), salt, time, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
