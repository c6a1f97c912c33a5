package card

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPIN  = errors.New("PIN must be 4 to 6 digits")
	ErrPINMismatch = errors.New("PIN does not match")
	ErrPINNotSet   = errors.New("no PIN set on card")
)

// pinCost is lowered in tests.
var pinCost = bcrypt.DefaultCost

func (c *Card) SetPIN(pin string) error {
	if len(pin) < 4 || len(pin) > 6 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	c.PINHash = string(hash)
	return nil
}

func (c *Card) VerifyPIN(pin string) error {
	if c.PINHash == "" {
		return ErrPINNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.PINHash), []byte(pin)); err != nil {
		return ErrPINMismatch
	}
	return nil
}
