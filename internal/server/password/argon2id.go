package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters encoded into every hash.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgon2Params = Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, SaltLen: 16, KeyLen: 32}

// Argon2idHasher produces PHC strings of the form
// $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>.
type Argon2idHasher struct {
	params Argon2Params
}

func NewArgon2idHasher(p Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: p}
}

func (h *Argon2idHasher) Name() string { return NameArgon2id }

func (h *Argon2idHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("empty password")
	}
	salt := common.GenerateRandByteArray(h.params.SaltLen)
	key := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify uses the parameters stored in hash, not the hasher's own.
func (h *Argon2idHasher) Verify(plain, hash string) bool {
	var v int
	var m, t uint32
	var p uint8
	var saltB64, keyB64 string

	// %s is greedy, so split the two trailing segments by hand.
	var rest string
	n, _ := fmt.Sscanf(hash, "$argon2id$v=%d$m=%d,t=%d,p=%d$%s", &v, &m, &t, &p, &rest)
	if n != 5 || v != argon2.Version {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '$' {
			saltB64, keyB64 = rest[:i], rest[i+1:]
			break
		}
	}
	if saltB64 == "" || keyB64 == "" {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	stored, err := base64.RawStdEncoding.DecodeString(keyB64)
	if err != nil || len(stored) == 0 {
		return false
	}

	key := argon2.IDKey([]byte(plain), salt, t, m, p, uint32(len(stored)))
	defer common.WipeByteArray(key)
	return subtle.ConstantTimeCompare(key, stored) == 1
}
