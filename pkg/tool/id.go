package tool

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// GeneratePassword picks n characters uniformly from letters, digits and symbols.
// It uses math/rand and is only meant for throwaway initial credentials.
func GeneratePassword(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordAlphabet[mrand.IntN(len(passwordAlphabet))]
	}
	return string(b)
}

// GenerateToken returns a hex encoded random token of size bytes.
func GenerateToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
