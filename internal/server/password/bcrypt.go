package password

import (
	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxBytes is the input limit of bcrypt; longer passwords are rejected
// by bcrypt.GenerateFromPassword.
const bcryptMaxBytes = 72

type BcryptHasher struct {
	cost int
}

// NewBcryptHasher uses bcrypt.DefaultCost when cost is zero.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Name() string { return NameBcrypt }

func (h *BcryptHasher) MaxPasswordBytes() int { return bcryptMaxBytes }

func (h *BcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
