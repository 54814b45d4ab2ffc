// Package subdomain validates and mints the dns labels that address tunnels.
package subdomain

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// label syntax: 3..63 chars, lowercase letters / digits / hyphens,
// no hyphen at either end.
var _label_re = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

// minted labels draw from this charset only.
const _charset = "abcdefghijklmnopqrstuvwxyz0123456789"

// length of relay-minted labels.
const MintedLength = 8

// Valid reports whether label is acceptable as an externally-requested
// tunnel subdomain.
func Valid(label string) bool {
	return _label_re.MatchString(label)
}

// Mint returns a cryptographically random 8-character lowercase
// alphanumeric label.
func Mint() string {
	b := make([]byte, MintedLength)
	max := big.NewInt(int64(len(_charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("subdomain: crypto/rand failed: " + err.Error())
		}
		b[i] = _charset[n.Int64()]
	}
	return string(b)
}
