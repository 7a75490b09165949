package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SecretContext labels the kind of secret being hashed so that equal inputs
// in different roles never produce comparable digests.
type SecretContext string

const (
	ContextSIN   SecretContext = "sin"
	ContextEmail SecretContext = "email"
	ContextCode  SecretContext = "code"
)

const minPepperLength = 16

// Argon2Parameters controls the cost factors for the hashing-key derivation.
type Argon2Parameters struct {
	Time      uint32
	Memory    uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params returns the cost factors used to stretch the configured
// pepper into per-context HMAC keys.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024, // 64 MiB
		Threads:   4,
		KeyLength: 32,
	}
}

// Validate ensures the parameters are suitable for Argon2id key derivation.
func (p Argon2Parameters) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	if p.KeyLength != 32 {
		return fmt.Errorf("argon2: key length must be 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// Hasher produces deterministic one-way digests of sensitive identifiers.
// Digests are HMAC-SHA256 values keyed per context; the keys are stretched
// from a server-side pepper with Argon2id, so a leaked table of digests
// cannot be brute forced offline without the pepper. Determinism is required
// because sin/email digests double as lookup keys.
type Hasher struct {
	keys map[SecretContext][]byte
}

// NewHasher derives per-context hashing keys from the configured pepper.
func NewHasher(pepper string, params Argon2Parameters) (*Hasher, error) {
	pepper = strings.TrimSpace(pepper)
	if len(pepper) < minPepperLength {
		return nil, fmt.Errorf("hasher: pepper must be at least %d characters", minPepperLength)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	keys := make(map[SecretContext][]byte, 3)
	for _, ctx := range []SecretContext{ContextSIN, ContextEmail, ContextCode} {
		salt := sha256.Sum256([]byte("clearlane/onboard:" + string(ctx)))
		keys[ctx] = argon2.IDKey([]byte(pepper), salt[:16], params.Time, params.Memory, params.Threads, params.KeyLength)
	}

	return &Hasher{keys: keys}, nil
}

// Hash returns the hex digest of the normalised secret for the given context.
func (h *Hasher) Hash(secret string, ctx SecretContext) (string, error) {
	key, ok := h.keys[ctx]
	if !ok {
		return "", fmt.Errorf("hasher: unknown secret context %q", ctx)
	}

	normalised := Normalize(secret, ctx)
	if normalised == "" {
		return "", errors.New("hasher: secret is empty after normalisation")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(normalised))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Normalize canonicalises a secret so equivalent inputs map to one digest:
// surrounding whitespace is dropped, emails are case-folded, and SINs lose
// their conventional space/dash grouping.
func Normalize(secret string, ctx SecretContext) string {
	secret = strings.TrimSpace(secret)

	switch ctx {
	case ContextEmail:
		return strings.ToLower(secret)
	case ContextSIN:
		secret = strings.ReplaceAll(secret, " ", "")
		return strings.ReplaceAll(secret, "-", "")
	default:
		return secret
	}
}
