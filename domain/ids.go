package domain

import (
	"crypto"
	"crypto/rand"
	"encoding/base32"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// idEncoding matches storage.NewID's base32 alphabet: lowercase (callers
// trim the '=' padding it adds), chosen so generated IDs are safe to embed in URLs and SQL identifiers
// without escaping.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

// NewAggregateID returns a UUIDv4 string, used for aggregate IDs (user,
// org, project, application, idp, instance) where callers benefit from a
// structured, globally-unique identifier rather than an opaque token.
func NewAggregateID() string {
	return uuid.NewString()
}

// NewOpaqueToken returns a random alphanumeric string suitable for
// short-lived, non-guessable tokens: authorization codes, device codes,
// registration access tokens.
func NewOpaqueToken(n int) string {
	return newSecureToken(n)
}

// NewDeviceCode returns a 51-character device code (32 random bytes) per
// RFC 8628 section 3.2, generated the same way as an authorization code.
func NewDeviceCode() string {
	return newSecureToken(32)
}

func newSecureToken(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	// Avoid a leading digit so the token can double as an identifier, and
	// trim the '=' padding base32 would otherwise add.
	return string(buf[0]%26+'a') + strings.TrimRight(idEncoding.EncodeToString(buf[1:]), "=")
}

// validUserCodeCharacters excludes visually ambiguous characters (0/O, 1/I,
// etc.) so a device user code can be read aloud or typed from a screen.
const validUserCodeCharacters = "BCDFGHJKLMNPQRSTVWXZ"

// NewUserCode returns an 8-character, dash-separated user code per
// RFC 8628 section 6.1 (e.g. "WDJB-MJHT"), formatted for the user to type
// into the verification URI.
func NewUserCode() string {
	code := randomUserCodeString(8)
	return code[:4] + "-" + code[4:]
}

func randomUserCodeString(n int) string {
	max := big.NewInt(int64(len(validUserCodeCharacters)))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		c, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = validUserCodeCharacters[c.Int64()]
	}
	return string(out)
}

// NewHMACKey returns a random key built from h.Size() random bytes in the
// same encoding as newSecureToken. Nothing in this module calls it.
func NewHMACKey(h crypto.Hash) []byte {
	return []byte(newSecureToken(h.Size()))
}
