// Package password hashes and verifies user credentials and enforces the
// password strength policy.
package password

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/modernapi/internal/common"
)

// Hasher produces and checks self-describing password hashes.
type Hasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain matches hash. A malformed hash is a
	// mismatch, not an error.
	Verify(plain, hash string) bool
	Name() string
}

// byteLimiter is implemented by hashers that only accept passwords up to a
// fixed length in bytes.
type byteLimiter interface {
	MaxPasswordBytes() int
}

// MaxBytes returns the longest password h accepts, in bytes, or 0 when there
// is no limit.
func MaxBytes(h Hasher) int {
	if l, ok := h.(byteLimiter); ok {
		return l.MaxPasswordBytes()
	}
	return 0
}

const (
	NameArgon2id = "argon2id"
	NameBcrypt   = "bcrypt"
)

// NewHasher returns the hasher registered under name.
func NewHasher(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameArgon2id, "":
		return NewArgon2idHasher(DefaultArgon2Params), nil
	case NameBcrypt:
		return NewBcryptHasher(0), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q: %w", name, common.ErrMisconfigured)
	}
}

// MultiHasher hashes with Primary and verifies any format it knows, so stored
// hashes keep working after the configured algorithm changes.
type MultiHasher struct {
	Primary Hasher
	Others  []Hasher
}

// NewMultiHasher hashes with the named algorithm and accepts both argon2id
// and bcrypt hashes on verification.
func NewMultiHasher(name string) (*MultiHasher, error) {
	primary, err := NewHasher(name)
	if err != nil {
		return nil, err
	}
	m := &MultiHasher{Primary: primary}
	for _, n := range []string{NameArgon2id, NameBcrypt} {
		if n == primary.Name() {
			continue
		}
		h, _ := NewHasher(n)
		m.Others = append(m.Others, h)
	}
	return m, nil
}

func (m *MultiHasher) Hash(plain string) (string, error) { return m.Primary.Hash(plain) }

func (m *MultiHasher) Name() string { return m.Primary.Name() }

// MaxPasswordBytes is the limit of the primary hasher, which does all hashing.
func (m *MultiHasher) MaxPasswordBytes() int { return MaxBytes(m.Primary) }

func (m *MultiHasher) Verify(plain, hash string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return m.verifyWith(NameArgon2id, plain, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return m.verifyWith(NameBcrypt, plain, hash)
	}
	return false
}

func (m *MultiHasher) verifyWith(name, plain, hash string) bool {
	if m.Primary.Name() == name {
		return m.Primary.Verify(plain, hash)
	}
	for _, h := range m.Others {
		if h.Name() == name {
			return h.Verify(plain, hash)
		}
	}
	return false
}
