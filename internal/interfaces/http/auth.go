package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/approval-routing/internal/application/port"
)

const actorKey = "actor"

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Secret string
	Issuer string
}

// Claims carried by an access token. The subject is the acting user.
type Claims struct {
	Privileged bool `json:"privileged,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and resolves the caller
type Authenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewAuthenticator creates an Authenticator. An empty secret is rejected.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Authenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Issue signs a token for userID valid for ttl
func (a *Authenticator) Issue(userID string, privileged bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Privileged: privileged,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a raw token into the calling actor
func (a *Authenticator) Verify(raw string) (port.Actor, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return port.Actor{}, err
	}
	if claims.Subject == "" {
		return port.Actor{}, errors.New("token has no subject")
	}
	return port.Actor{ID: claims.Subject, Privileged: claims.Privileged}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor on the gin context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: "missing bearer token"})
			return
		}

		actor, err := a.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid token"})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// actorFrom returns the actor stored by Middleware
func actorFrom(c *gin.Context) port.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(port.Actor); ok {
			return actor
		}
	}
	return port.Actor{}
}
