package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
			return
		}

		if !r.validToken(parts[1]) {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	}
}

func (r *Router) validToken(tokenString string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	return err == nil && token.Valid
}

// generateJWT creates a new JWT token for a client
func (r *Router) generateJWT(clientID string) (string, time.Time, error) {
	expiry := r.cfg.JWTExpiry
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	expiresAt := time.Now().Add(expiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "notulad",
		},
		ClientID: clientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(r.cfg.JWTSecret))
	return signed, expiresAt, err
}

// handleIssueToken exchanges the configured API key for a short-lived JWT.
func (r *Router) handleIssueToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		APIKey   string `json:"api_key"`
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if r.cfg.APIKey == "" {
		writeError(w, http.StatusServiceUnavailable, "token auth not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.APIKey), []byte(r.cfg.APIKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	clientID := body.ClientID
	if clientID == "" {
		clientID = "default"
	}
	token, expiresAt, err := r.generateJWT(clientID)
	if err != nil {
		captureError(req, err, "signing token")
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
