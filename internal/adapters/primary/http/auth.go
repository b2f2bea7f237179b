package http

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Clé privée pour le contexte (évite les collisions)
type contextKey struct{ name string }

var viewerCtxKey = &contextKey{"viewer_id"}

// ViewerClaims : sous-ensemble des claims émis par le service d'identité
type ViewerClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenVerifier vérifie les access tokens RS256 avec la clé PUBLIQUE uniquement.
// Le ranking ne signe jamais de token.
type TokenVerifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

func NewTokenVerifier(publicKeyPEM []byte, issuer string) (*TokenVerifier, error) {
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &TokenVerifier{publicKey: pubKey, issuer: issuer}, nil
}

// Validate vérifie la signature et retourne l'ID du viewer (Subject)
func (v *TokenVerifier) Validate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ViewerClaims{}, func(token *jwt.Token) (any, error) {
		// Refuse "none" / HS256 : seule la clé RSA publique fait foi
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*ViewerClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if _, err := uuid.Parse(subject); err != nil {
		return "", fmt.Errorf("invalid subject: %w", err)
	}
	return subject, nil
}

// Authenticate décode le header Authorization.
// Pas de header : visiteur anonyme. Header présent mais invalide : 401.
func Authenticate(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token format")
				return
			}

			viewerID, err := verifier.Validate(tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), viewerCtxKey, viewerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ViewerFromContext renvoie l'ID du viewer ("" = anonyme)
func ViewerFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(viewerCtxKey).(string)
	return raw
}
