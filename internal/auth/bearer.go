package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// claimsCtxKey is the Gin context key holding verified token claims.
const claimsCtxKey = "token_claims"

// ErrInvalidToken covers every bearer-token rejection: missing, expired,
// malformed, wrong signature, wrong type.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the verified contents of an access token.
type Claims struct {
	Subject string
	Type    string
}

// TokenVerifier validates HS256 bearer tokens issued by the account
// service. Token issuance lives outside this service; we only verify.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// Verify checks signature and expiry and requires an access-type token.
func (v *TokenVerifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	typ, _ := mc["typ"].(string)
	if typ != "access" {
		return Claims{}, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	sub, _ := mc["sub"].(string)

	return Claims{Subject: sub, Type: typ}, nil
}

// BearerMiddleware guards query endpoints with an Authorization: Bearer
// token. Like the HMAC path, every failure is an identical 401.
func BearerMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(claimsCtxKey, claims)
		c.Next()
	}
}

// TokenClaims returns the verified claims from the request context.
func TokenClaims(c *gin.Context) Claims {
	v, _ := c.Get(claimsCtxKey)
	claims, _ := v.(Claims)
	return claims
}
