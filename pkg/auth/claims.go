package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	BusinessID uuid.UUID
	JTI        string
}

// AccessTokenClaims is the typed JWT presented by dashboard clients. Every
// business-scoped call derives its tenant from BusinessID, never from input.
type AccessTokenClaims struct {
	UserID     uuid.UUID `json:"user_id"`
	BusinessID uuid.UUID `json:"business_id"`
	jwt.RegisteredClaims
}
