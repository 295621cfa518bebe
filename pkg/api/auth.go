package api

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AuthConfig holds authentication credentials for the API middleware.
type AuthConfig struct {
	Users   map[string]string // username -> password
	APIKeys map[string]bool   // valid API key tokens
}

// authenticator guards the API routes. Paths the server registers as
// public (health probes, metrics scrapes) pass through; everything
// else needs one of the configured credentials. Rejections are logged
// so operators can spot misconfigured clients.
type authenticator struct {
	users  map[string]string
	keys   map[string]bool
	public map[string]bool
	log    *zap.Logger
}

func newAuthenticator(cfg AuthConfig, publicPaths []string, log *zap.Logger) *authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &authenticator{
		users:  cfg.Users,
		keys:   cfg.APIKeys,
		public: make(map[string]bool, len(publicPaths)),
		log:    log,
	}
	for _, p := range publicPaths {
		a.public[p] = true
	}
	return a
}

func (a *authenticator) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if principal, ok := a.authenticate(r); ok {
			a.log.Debug("request authenticated",
				zap.String("principal", principal), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		}
		a.log.Warn("request rejected",
			zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="netpatch API"`)
		writeJSON(w, http.StatusUnauthorized, Response{
			Success: false,
			Error:   "authentication required",
		})
	})
}

// authenticate tries the supported credential forms in order: bearer
// token, basic auth, then the X-API-Key header. It returns a principal
// label for logging.
func (a *authenticator) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return "token", a.keys[token]
	}
	if payload, ok := strings.CutPrefix(header, "Basic "); ok {
		user, ok := a.checkBasic(payload)
		return "user " + user, ok
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "api-key", a.keys[key]
	}
	return "", false
}

func (a *authenticator) checkBasic(payload string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return user, false
	}
	want, known := a.users[user]
	return user, known && subtle.ConstantTimeCompare([]byte(pass), []byte(want)) == 1
}
