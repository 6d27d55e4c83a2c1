// Package password hashes account passwords with argon2id over the
// plaintext and a server-wide pepper. Hashes created by bcrypt are still
// accepted by Compare.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"textrpg-server/internal/platform/apperr"
)

// Bounds on parameters read back from a stored hash.
const (
	maxMemoryKiB = 1 << 20
	maxTime      = 16
	maxThreads   = 16
)

const (
	saltLength  = 16
	keyLength   = 32
	parallelism = 2
)

type Params struct {
	Time      uint32
	MemoryKiB uint32
}

type Hasher struct {
	pepper string
	params Params
}

func NewHasher(pepper string, params Params) *Hasher {
	return &Hasher{pepper: pepper, params: params}
}

// Hash returns an encoded argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperr.EmptyPassword()
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey(h.peppered(plaintext), salt, h.params.Time, h.params.MemoryKiB, parallelism, keyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.MemoryKiB, h.params.Time, parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Compare reports whether plaintext matches hash. A mismatch is not an error;
// a hash that cannot be parsed is.
func (h *Hasher) Compare(plaintext, hash string) (bool, error) {
	if strings.HasPrefix(hash, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(plaintext))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		}
		return false, fmt.Errorf("compare bcrypt hash: %w", err)
	}
	return h.compareArgon(plaintext, hash)
}

func (h *Hasher) compareArgon(plaintext, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("invalid hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}
	var (
		memory, time uint32
		threads      uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parse hash params: %w", err)
	}
	if memory == 0 || memory > maxMemoryKiB || time == 0 || time > maxTime || threads == 0 || threads > maxThreads {
		return false, fmt.Errorf("hash params out of range: m=%d,t=%d,p=%d", memory, time, threads)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	if len(want) == 0 {
		return false, fmt.Errorf("empty hash key")
	}
	got := argon2.IDKey(h.peppered(plaintext), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) peppered(plaintext string) []byte {
	return []byte(plaintext + h.pepper)
}
