package auth

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte(os.Getenv("JWT_SECRET"))

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

func generateToken(userID uint64, tokenVersion int, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":       strconv.FormatUint(userID, 10),
		"token_version": tokenVersion,
		"exp":           time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// GenerateAccessToken mints a short-lived token carrying the user's
// current token version, checked against the stored version on every
// authenticated request so a Logout invalidates prior access tokens.
func GenerateAccessToken(userID uint64, tokenVersion int) (string, error) {
	return generateToken(userID, tokenVersion, accessTokenTTL)
}

// GenerateRefreshToken mints a longer-lived token used only to mint new
// access tokens via RefreshToken.
func GenerateRefreshToken(userID uint64, tokenVersion int) (string, error) {
	return generateToken(userID, tokenVersion, refreshTokenTTL)
}

func VerifyJWT(tokenString string) (*jwt.Token, error) {
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

// GetDataFromToken extracts the user ID and token version embedded by
// generateToken. Callers compare tokenVersion against the user's stored
// value to reject tokens issued before the most recent logout.
func GetDataFromToken(token *jwt.Token) (userID uint64, tokenVersion int, err error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, 0, errors.New("invalid token claims")
	}

	idStr, ok := claims["user_id"].(string)
	if !ok {
		return 0, 0, errors.New("missing user_id claim")
	}
	userID, err = strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, 0, errors.New("malformed user_id claim")
	}

	versionF, ok := claims["token_version"].(float64)
	if !ok {
		return 0, 0, errors.New("missing token_version claim")
	}

	return userID, int(versionF), nil
}
