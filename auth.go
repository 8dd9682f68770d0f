package comysql

import (
	"crypto/sha1"
	"fmt"
)

// computeAuthResponse builds the auth-response bytes for the named plugin
// (spec.md §4.5). Unknown plugins fail fast rather than silently sending
// an unauthenticated response.
func computeAuthResponse(plugin, password string, scramble []byte) ([]byte, error) {
	switch plugin {
	case "", "mysql_native_password":
		return scrambleNativePassword(scramble, password), nil
	case "mysql_clear_password":
		return append([]byte(password), 0), nil
	case "client_ed25519":
		return scrambleEd25519Password(scramble, password), nil
	default:
		return nil, fmt.Errorf("comysql: unsupported authentication plugin %q", plugin)
	}
}

// scrambleNativePassword computes the mysql_native_password response:
// SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password))) (spec.md §4.5).
// An empty password is sent as a single zero byte.
func scrambleNativePassword(scramble []byte, password string) []byte {
	if password == "" {
		return []byte{0}
	}

	sha1pwd := sha1Sum([]byte(password))
	sha1sha1pwd := sha1Sum(sha1pwd[:])

	h := sha1.New()
	h.Write(scramble)
	h.Write(sha1sha1pwd[:])
	scrambleHash := h.Sum(nil)

	out := make([]byte, len(sha1pwd))
	for i := range out {
		out[i] = sha1pwd[i] ^ scrambleHash[i]
	}
	return out
}

func sha1Sum(b []byte) [sha1.Size]byte {
	return sha1.Sum(b)
}
