// Package auth — password hashing utilities.
//
// Two algorithms are supported for new hashes: bcrypt (the default) and
// argon2id. Both embed a random per-hash salt and their work factor in the
// encoded output, so Verify can check any stored hash regardless of which
// algorithm is configured today. Switching PASSWORD_ALGORITHM therefore never
// locks existing users out.
//
// Hash formats:
//
//	$2a$12$<22-char salt><31-char hash>               bcrypt
//	$argon2id$v=19$m=65536,t=1,p=2$<salt>$<key>        argon2id
package auth

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a password hashing scheme.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// DefaultCost is the bcrypt work factor used when none is configured.
// Roughly 250ms per hash on a modern server.
const DefaultCost = 12

// MaxPasswordBytes is the longest password accepted. bcrypt silently
// truncates anything longer, so it is rejected for both algorithms.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for passwords over MaxPasswordBytes.
var ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)

const argon2idPrefix = "$argon2id$"

// PasswordService produces and checks salted password hashes.
type PasswordService struct {
	algorithm Algorithm
	cost      int
	argon     *argon2id.Params
}

// NewPasswordService creates a PasswordService that hashes new passwords with
// algorithm. cost is the bcrypt work factor; it is ignored for argon2id.
func NewPasswordService(algorithm Algorithm, cost int) (*PasswordService, error) {
	switch algorithm {
	case "", AlgorithmBcrypt:
		algorithm = AlgorithmBcrypt
		if cost == 0 {
			cost = DefaultCost
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d",
				bcrypt.MinCost, bcrypt.MaxCost, cost)
		}
	case AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("auth: unknown password algorithm %q", algorithm)
	}

	return &PasswordService{
		algorithm: algorithm,
		cost:      cost,
		argon: &argon2id.Params{
			Memory:      64 * 1024,
			Iterations:  1,
			Parallelism: uint8(min(runtime.NumCPU(), 4)),
			SaltLength:  16,
			KeyLength:   32,
		},
	}, nil
}

// NewPasswordServiceForTest creates a bcrypt PasswordService with the given
// cost. Use bcrypt.MinCost (4) in tests in other packages to avoid ~250ms per
// hash. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{algorithm: AlgorithmBcrypt, cost: cost}
}

// Algorithm returns the algorithm used for new hashes.
func (p *PasswordService) Algorithm() Algorithm {
	return p.algorithm
}

// Hash returns a self-contained salted hash of plaintext. Store it as is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	if p.algorithm == AlgorithmArgon2id {
		hashed, err := argon2id.CreateHash(plaintext, p.argon)
		if err != nil {
			return "", fmt.Errorf("auth: hashing password: %w", err)
		}
		return hashed, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. Malformed or empty hashes
// simply do not match. Both algorithms compare in constant time.
func (p *PasswordService) Verify(hash, plaintext string) bool {
	if strings.HasPrefix(hash, argon2idPrefix) {
		ok, err := argon2id.ComparePasswordAndHash(plaintext, hash)
		return err == nil && ok
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		// corrupt hash, unsupported version, wrong cost encoding, ...
		return false
	}
	return err == nil
}
