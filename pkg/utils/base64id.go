package utils

import (
	"crypto/rand"
	"encoding/base64"
)

type base64Id struct{}

var defaultBase64Id = &base64Id{}

// Base64Id returns the package's default id generator.
func Base64Id() *base64Id {
	return defaultBase64Id
}

// GenerateId returns a URL-safe, base64-encoded random identifier with
// enough entropy (18 random bytes, 24 encoded characters) to serve as a
// session id.
func (*base64Id) GenerateId() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
