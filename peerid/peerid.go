// Package peerid generates the client's 20-byte BitTorrent peer-id, stable
// for the process lifetime.
package peerid

import (
	"crypto/rand"
)

// prefix identifies this client in the Azureus-style peer-id convention.
var prefix = []byte("-JS0001-")

const urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Generate returns a fresh 20-byte peer-id: the fixed 8-byte prefix followed
// by 12 random characters drawn from a URL-safe alphabet.
func Generate() ([20]byte, error) {
	var id [20]byte
	copy(id[:], prefix)
	suffix := make([]byte, 20-len(prefix))
	if _, err := rand.Read(suffix); err != nil {
		return id, err
	}
	for i, b := range suffix {
		id[len(prefix)+i] = urlSafeAlphabet[int(b)%len(urlSafeAlphabet)]
	}
	return id, nil
}
