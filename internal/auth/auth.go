// Package auth implements the portal's single-operator login: a bcrypt
// password check and HMAC-signed session cookies.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"file-portal/internal/logging"
)

// Mode selects how management endpoints are protected. It is either
// Disabled or PasswordHash.
type Mode interface {
	isMode()
}

// Disabled lets every request through. Login and logout answer 400.
type Disabled struct{}

// PasswordHash requires a session obtained by presenting the password that
// matches Hash (bcrypt).
type PasswordHash struct {
	Hash string
}

func (Disabled) isMode()     {}
func (PasswordHash) isMode() {}

const (
	defaultCookieName = "portal_session"
	defaultSessionTTL = 30 * 24 * time.Hour
	minSecretLength   = 32
)

var (
	ErrMissingHash   = errors.New("password auth requires a bcrypt hash")
	ErrWeakSecret    = fmt.Errorf("session secret must be at least %d characters", minSecretLength)
	errInvalidFormat = errors.New("invalid token format")
	errBadSignature  = errors.New("invalid signature")
	errExpired       = errors.New("expired")
)

// Options configures session cookies.
type Options struct {
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	SecureCookie  bool
	Now           func() time.Time
}

// Authenticator guards handlers according to its Mode.
type Authenticator struct {
	mode   Mode
	hash   []byte
	secret []byte
	ttl    time.Duration
	cookie string
	secure bool
	now    func() time.Time
}

type sessionPayload struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
}

// New validates mode against opts. Password mode without a hash or with a
// short session secret is an error.
func New(mode Mode, opts Options) (*Authenticator, error) {
	a := &Authenticator{
		mode:   mode,
		secret: []byte(opts.SessionSecret),
		ttl:    opts.SessionTTL,
		cookie: opts.CookieName,
		secure: opts.SecureCookie,
		now:    opts.Now,
	}
	if a.ttl <= 0 {
		a.ttl = defaultSessionTTL
	}
	if a.cookie == "" {
		a.cookie = defaultCookieName
	}
	if a.now == nil {
		a.now = time.Now
	}

	switch m := mode.(type) {
	case Disabled:
	case PasswordHash:
		if strings.TrimSpace(m.Hash) == "" {
			return nil, ErrMissingHash
		}
		if _, err := bcrypt.Cost([]byte(m.Hash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		if len(a.secret) < minSecretLength {
			return nil, ErrWeakSecret
		}
		a.hash = []byte(m.Hash)
	default:
		return nil, fmt.Errorf("unknown auth mode %T", mode)
	}
	return a, nil
}

// Enabled reports whether a session is required.
func (a *Authenticator) Enabled() bool {
	_, off := a.mode.(Disabled)
	return !off
}

// HashPassword returns a bcrypt hash suitable for PORTAL_AUTH_BCRYPT_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (a *Authenticator) verifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
}

func signPayload(secret []byte, msg string) string {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

// makeToken returns "payload.signature".
func (a *Authenticator) makeToken(sub string) (string, time.Time, error) {
	exp := a.now().Add(a.ttl)
	b, err := json.Marshal(sessionPayload{Sub: sub, Exp: exp.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}
	payload := base64.RawURLEncoding.EncodeToString(b)
	return payload + "." + signPayload(a.secret, payload), exp, nil
}

func (a *Authenticator) verifyToken(tok string) (sessionPayload, error) {
	var p sessionPayload
	payload, sig, ok := strings.Cut(tok, ".")
	if !ok || strings.Contains(sig, ".") {
		return p, errInvalidFormat
	}
	if !hmac.Equal([]byte(sig), []byte(signPayload(a.secret, payload))) {
		return p, errBadSignature
	}
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, err
	}
	if p.Exp <= a.now().Unix() {
		return p, errExpired
	}
	return p, nil
}

// RequireAuth rejects requests without a valid session with 401. In
// Disabled mode it is a pass-through.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(a.cookie)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		if _, err := a.verifyToken(c.Value); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoginHandler accepts {"password": "..."} as JSON or a form field and sets
// the session cookie on success.
func (a *Authenticator) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "authentication disabled"})
			return
		}

		password, err := readPassword(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad request"})
			return
		}
		if !a.verifyPassword(password) {
			logging.Warn("login_failed", map[string]any{"remote": r.RemoteAddr})
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid password"})
			return
		}

		tok, exp, err := a.makeToken("operator")
		if err != nil {
			logging.Error("session_sign_failed", nil, err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "server error"})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     a.cookie,
			Value:    tok,
			Path:     "/",
			Expires:  exp,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   a.secure,
		})
		logging.Info("login_ok", map[string]any{"remote": r.RemoteAddr})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// LogoutHandler clears the session cookie.
func (a *Authenticator) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "authentication disabled"})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     a.cookie,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   a.secure,
		})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func readPassword(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4096)).Decode(&body); err != nil {
			return "", err
		}
		return body.Password, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, 4096)
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("password"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
