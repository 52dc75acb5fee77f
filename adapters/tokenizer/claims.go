package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims carry the browser session id as the JWT ID
type SessionClaims struct {
	jwt.RegisteredClaims
}
