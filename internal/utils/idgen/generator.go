package idgen

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSecureID generates a cryptographically secure ID with the given prefix and length.
// Uses only alphanumeric characters (0-9, a-z) - no dashes or special characters.
func GenerateSecureID(prefix string, length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := make([]byte, length)
	for i := 0; i < length; i++ {
		encoded[i] = charset[int(bytes[i])%len(charset)]
	}

	return fmt.Sprintf("%s_%s", prefix, string(encoded)), nil
}

// ServerID identifies this process in broker keys and relay records. It
// combines the hostname with a random suffix so that restarts on the same
// host never reuse a crashed process's shard. Colons are stripped because
// they separate fields in broker keys.
func ServerID() (string, error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "livechat"
	}
	host = strings.ReplaceAll(host, ":", "-")
	return GenerateSecureID(host, 8)
}
