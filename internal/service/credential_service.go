package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"relay-gateway/internal/core/ports"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for stored upload credentials.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Argon2HashService implements ports.HashService using Argon2id.
type Argon2HashService struct{}

func NewArgon2HashService() *Argon2HashService {
	return &Argon2HashService{}
}

// Hash returns $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func (s *Argon2HashService) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return encodedHash{
		version: argon2.Version,
		memory:  argon2Memory,
		time:    argon2Time,
		threads: argon2Threads,
		salt:    salt,
		key:     key,
	}.String(), nil
}

// Verify checks password against an encoded Argon2id hash.
func (s *Argon2HashService) Verify(password string, hash string) (bool, error) {
	h, err := parseEncodedHash(hash)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(h.key, other) == 1, nil
}

type encodedHash struct {
	version int
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h encodedHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func parseEncodedHash(s string) (encodedHash, error) {
	var h encodedHash
	parts := strings.Split(s, "$")
	if len(parts) != 6 {
		return h, fmt.Errorf("invalid hash format: expected 6 parts, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		return h, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &h.version); err != nil {
		return h, fmt.Errorf("parsing version: %w", err)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return h, fmt.Errorf("parsing params: %w", err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("decoding salt: %w", err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("decoding hash: %w", err)
	}
	return h, nil
}

// CredentialVerifier checks upload logins against one configured account.
// A password hash takes precedence over a plaintext password.
type CredentialVerifier struct {
	username     string
	password     string
	passwordHash string
	hasher       ports.HashService
}

func NewCredentialVerifier(username, password, passwordHash string, hasher ports.HashService) *CredentialVerifier {
	return &CredentialVerifier{
		username:     username,
		password:     password,
		passwordHash: passwordHash,
		hasher:       hasher,
	}
}

// Check reports whether user and pass match the configured account.
func (v *CredentialVerifier) Check(user, pass string) bool {
	if v.username == "" || subtle.ConstantTimeCompare([]byte(user), []byte(v.username)) != 1 {
		return false
	}
	if v.passwordHash != "" {
		ok, err := v.hasher.Verify(pass, v.passwordHash)
		return err == nil && ok
	}
	if v.password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(v.password)) == 1
}
