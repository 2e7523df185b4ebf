package utils

import "github.com/sethvargo/go-password/password"

// GenerateAPIKey returns a random alphanumeric key for webhook authentication.
func GenerateAPIKey() (string, error) {
	return password.Generate(32, 10, 0, false, true)
}
