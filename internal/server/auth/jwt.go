// Package auth issues and validates the HMAC-signed device tokens that
// authenticate sync API requests.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ivolkov/shelfsync/internal/shared"
)

// Claims carries the registered claims plus the id of the device the token
// was issued to.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string
}

// GenerateToken signs a token for the given device.
func GenerateToken(deviceID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		DeviceID: deviceID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetDeviceIDFromToken validates the token and returns the device id it was
// issued to.
func GetDeviceIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", shared.ErrorInvalidToken
	}

	return claims.DeviceID, nil
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header value.
func ParseBearer(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", shared.ErrorInvalidAuthheaderFormat
	}
	return parts[1], nil
}
