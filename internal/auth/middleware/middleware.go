package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-progress/internal/rbac"
)

const issuer = "mindengage-progress"

type AuthService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{hmac: []byte(secret), ttl: ttl, now: time.Now}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // "learner" or "admin"
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

var ErrBadToken = errors.New("bad token")

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, ErrBadToken
	}
	return c, nil
}

// Credentials checks logins. Admins come from config; learners are
// accepted in dev mode only, since production identities come from the
// upstream identity provider that mints tokens with the same secret.
type Credentials struct {
	AdminUser     string
	AdminPassHash string
	AllowDevLogin bool
}

// Verify returns the role for a valid username/password pair.
func (c Credentials) Verify(username, password string) (string, bool) {
	if username == "" || password == "" {
		return "", false
	}
	if username == c.AdminUser && c.AdminPassHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(c.AdminPassHash), []byte(password)) == nil {
			return rbac.RoleAdmin, true
		}
		return "", false
	}
	if c.AllowDevLogin && username == password {
		return rbac.RoleLearner, true
	}
	return "", false
}

// POST /auth/login  { "username": "...", "password": "..." }
func LoginHandler(a *AuthService, creds Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "bad json")
			return
		}
		role, ok := creds.Verify(strings.TrimSpace(req.Username), req.Password)
		if !ok {
			slog.Info("login rejected", "username", req.Username)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		tok, err := a.IssueJWT(strings.TrimSpace(req.Username), role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "issue token")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "role": role})
	}
}

// JWTMiddleware authenticates the bearer token and puts subject and role in
// the request context. Websocket clients may pass ?access_token= instead.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				raw = strings.TrimPrefix(h, "Bearer ")
			} else if q := r.URL.Query().Get("access_token"); q != "" && isWebsocket(r) {
				raw = q
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer")
				return
			}
			claims, err := a.Parse(raw)
			if err == nil && !rbac.KnownRole(claims.Role) {
				err = ErrBadToken
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "bad token")
				return
			}
			ctx := WithSubject(r.Context(), claims.Sub)
			ctx = rbac.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}
