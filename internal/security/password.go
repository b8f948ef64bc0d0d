package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// CredentialHasher turns a password into an opaque stored credential and
// checks a candidate password against one.
type CredentialHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, credential []byte) (bool, error)
}

const (
	HasherArgon2 = "argon2"
	HasherPlain  = "plain"
)

func NewHasher(name string) (CredentialHasher, error) {
	switch name {
	case "", HasherArgon2:
		return Argon2Hasher{Params: DefaultArgon2Params}, nil
	case HasherPlain:
		return PlainHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown credential hasher %q", name)
	}
}

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

type Argon2Hasher struct {
	Params Argon2Params
}

func (h Argon2Hasher) Hash(password string) ([]byte, error) {
	return HashPasswordWithParams(password, h.Params)
}

func (h Argon2Hasher) Verify(password string, credential []byte) (bool, error) {
	return VerifyPassword(password, credential)
}

// PlainHasher stores the password as-is and compares in constant time.
// Only meant for local development and tests.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) ([]byte, error) {
	return []byte(password), nil
}

func (PlainHasher) Verify(password string, credential []byte) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(password), credential) == 1, nil
}

func HashPasswordWithParams(password string, params Argon2Params) ([]byte, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)

	encoded := base64.RawStdEncoding.EncodeToString(hash)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)

	result := fmt.Sprintf("$argon2id$v=19$t=%d,m=%d,p=%d$%s$%s",
		params.Time, params.Memory, params.Threads, encodedSalt, encoded)

	return []byte(result), nil
}

func VerifyPassword(password string, encodedHash []byte) (bool, error) {
	var (
		time    uint32
		memory  uint32
		threads uint8
	)

	parts := strings.Split(string(encodedHash), "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false, fmt.Errorf("parse hash: unexpected format")
	}
	if _, err := fmt.Sscanf(parts[3], "t=%d,m=%d,p=%d", &time, &memory, &threads); err != nil {
		return false, fmt.Errorf("parse hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))

	if subtle.ConstantTimeCompare(hash, computed) == 1 {
		return true, nil
	}
	return false, nil
}
