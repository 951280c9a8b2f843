package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator establishes the identity of a connection before upgrade.
// Trust decisions live here; the realtime core only carries the result.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// JWTAuthenticator validates HS256 access tokens issued by the API.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Authenticate reads "Authorization: Bearer <token>" or, for browsers that
// cannot set headers on a websocket, the "token" query parameter.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}
	return a.ValidateToken(tokenString)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ") // 0 is Bearer, 1 is token
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ValidateToken parses the token and extracts user_id, username and role.
func (a *JWTAuthenticator) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: user_id claim is not a string", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string) // optional

	return Identity{UserID: userID, UserName: username, Role: role}, nil
}
