package relay

import "crypto/hmac"

// Authenticator validates agent shared secrets against the configured set.
type Authenticator struct {
	secrets []string
}

// NewAuthenticator creates an authenticator over the given secret set.
func NewAuthenticator(secrets []string) *Authenticator {
	return &Authenticator{secrets: secrets}
}

// Authenticate reports whether key is a member of the accepted secret set.
// every candidate is compared in constant time regardless of early matches.
func (a *Authenticator) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	ok := false
	for _, s := range a.secrets {
		if hmac.Equal([]byte(s), []byte(key)) {
			ok = true
		}
	}
	return ok
}
