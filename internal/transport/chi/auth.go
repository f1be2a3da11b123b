package chi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// exemptPaths skip authentication: probes and the scrape endpoint.
var exemptPaths = map[string]struct{}{
	"/health/live":    {},
	"/health/ready":   {},
	"/health/startup": {},
	"/metrics":        {},
}

// BearerAuthMiddleware accepts requests whose bearer token is one of apiKeys.
// No keys configured means no authentication.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	digests := make([][sha256.Size]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			var msg string
			token, ok := bearerToken(r)
			switch {
			case r.Header.Get("Authorization") == "":
				msg = "missing authorization header"
			case !ok:
				msg = "authorization header must use Bearer scheme"
			case !knownKey(digests, token):
				msg = "invalid api key"
			default:
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="hybridcoord"`)
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, msg)
		})
	}
}

// knownKey compares digests in constant time and never stops early.
func knownKey(digests [][sha256.Size]byte, token string) bool {
	sum := sha256.Sum256([]byte(token))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
	}
	return found == 1
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
