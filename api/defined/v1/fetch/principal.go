package fetch

import (
	"crypto/sha1"
	"encoding/hex"
)

// Principal is the account on whose behalf a fetch runs.
type Principal struct {
	Username  string `json:"username" yaml:"username"`
	Anonymous bool   `json:"anonymous" yaml:"anonymous"`
}

// AnonymousPrincipal is the logged-out principal.
var AnonymousPrincipal = Principal{Anonymous: true}

// Namespace returns the one-way hashed identity used to name storage
// buckets of p, so cache paths never reveal the account name.
func (p Principal) Namespace() string {
	sum := sha1.Sum([]byte(p.Username))
	return hex.EncodeToString(sum[:])
}

func (p Principal) String() string {
	if p.Anonymous {
		return "<anonymous>"
	}
	return p.Username
}
