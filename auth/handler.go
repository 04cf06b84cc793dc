package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"shortsgen/errors"
	"shortsgen/httputil"
)

const maxPasswordLen = 72 // bcrypt truncates at 72 bytes

type contextKey string

// UserIDKey is the context key used to store the authenticated operator.
const UserIDKey contextKey = "user_id"

// AdminKey marks requests carrying an admin token.
const AdminKey contextKey = "admin"

// ExtractUserID returns the operator from the request context, if present.
func ExtractUserID(r *http.Request) (string, bool) {
	uid, ok := r.Context().Value(UserIDKey).(string)
	return uid, ok && uid != ""
}

// IsAdmin reports whether the request was authenticated with an admin token.
func IsAdmin(r *http.Request) bool {
	v, _ := r.Context().Value(AdminKey).(bool)
	return v
}

// Handler holds the operator credentials and token settings.
type Handler struct {
	Username     string
	PasswordHash string
	AdminUsers   []string
	JWTSecret    string
	TokenTTL     time.Duration
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks the operator password and returns a signed JWT.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErrorMessage(w, 400, "invalid request body")
		return
	}
	if h.PasswordHash == "" || len(req.Password) > maxPasswordLen {
		httputil.WriteErrorMessage(w, 401, "invalid credentials")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.PasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		httputil.WriteErrorMessage(w, 401, "invalid credentials")
		return
	}

	admin := h.isAdminUser(req.Username)
	token, err := GenerateToken(req.Username, admin, h.JWTSecret, h.ttl())
	if err != nil {
		httputil.WriteErrorMessage(w, 500, "failed to generate token")
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"token": token, "user_id": req.Username, "admin": admin})
}

func (h *Handler) ttl() time.Duration {
	if h.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return h.TokenTTL
}

func (h *Handler) isAdminUser(user string) bool {
	for _, u := range h.AdminUsers {
		if u == user {
			return true
		}
	}
	return false
}

// HashPassword returns the bcrypt hash to configure as the operator password.
func HashPassword(password string) (string, error) {
	if len(password) < 8 || len(password) > maxPasswordLen {
		return "", errors.Invalidf("password must be 8 to %d characters", maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}

// GenerateToken creates a signed JWT for the given operator.
func GenerateToken(userID string, admin bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"admin": admin,
		"exp":   now.Add(ttl).Unix(),
		"iat":   now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates the Bearer JWT of r and returns its subject and
// admin claim.
func ParseToken(r *http.Request, secret string) (string, bool, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false, errors.ErrUnauthorized
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", false, errors.Mark(errors.Wrap(err, "invalid token"), errors.ErrUnauthorized)
	}
	if !token.Valid {
		return "", false, errors.ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false, errors.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", false, errors.ErrUnauthorized
	}
	admin, _ := claims["admin"].(bool)
	return sub, admin, nil
}

// AuthMiddleware requires a valid JWT and puts the operator into the context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, admin, err := ParseToken(r, h.JWTSecret)
		if err != nil {
			httputil.WriteErrorMessage(w, 401, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, AdminKey, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware requires a valid JWT with the admin claim.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return h.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r) {
			httputil.WriteErrorMessage(w, 401, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
