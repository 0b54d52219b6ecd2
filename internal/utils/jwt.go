package utils // package utils provides helper functions for tokens, PINs and key material

import (
    "crypto/rand"  // secure random number generation
    "encoding/hex" // hex encoding of generated keys
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Roles carried in the "role" claim.
const (
    RoleDevice   = "DEVICE"   // scanning device: redeem, append history, submit reviews
    RoleOperator = "OPERATOR" // back office: query and export history, list reviews
    RoleIssuer   = "ISSUER"   // booking system: issue credentials
)

// AccessToken represents a signed JWT along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT.  The subject is the
// device id for devices and an account name otherwise.  The JWT includes
// the standard claims sub, exp and iat plus the role.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
    if subject == "" || role == "" {
        return AccessToken{}, errors.New("token subject and role are required")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  subject,
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies an HS256 token and returns its subject and
// role.  Tokens signed with any other algorithm are rejected.
func ParseAccessToken(secret, raw string) (subject, role string, err error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
    if err != nil {
        return "", "", err
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return "", "", errors.New("invalid claims")
    }
    subject, _ = claims["sub"].(string)
    role, _ = claims["role"].(string)
    if subject == "" || role == "" {
        return "", "", errors.New("token without subject or role")
    }
    return subject, role, nil
}

// RandomHex returns n bytes of cryptographically secure random data,
// hex encoded.  It generates credential signing keys.
func RandomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
