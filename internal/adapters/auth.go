package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var errInvalidToken = errors.New("invalid authentication token")

// identityFromToken verifies an HS256 access token and extracts the
// user id and display name it carries. Credential management itself is
// an external service; this edge only checks the signature.
func identityFromToken(raw, secret string) (userID, username string, err error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidToken
	}
	userID, _ = claims["_id"].(string)
	username, _ = claims["username"].(string)
	if userID == "" {
		return "", "", errInvalidToken
	}
	return userID, username, nil
}

// UsernameWriter refreshes the display-name directory on each
// authenticated request.
type UsernameWriter interface {
	SetUsername(ctx context.Context, userID, username string) error
}

// AuthMiddleware rejects requests without a valid access token and puts
// the caller's identity on the gin context.
func AuthMiddleware(secret string, users UsernameWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, username, err := identityFromToken(bearerToken(c), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("userID", userID)
		c.Set("username", username)
		if username != "" {
			if err := users.SetUsername(c.Request.Context(), userID, username); err != nil {
				log.Warn().Err(err).Str("module", "adapters.auth").Str("user", userID).Msg("username refresh failed")
			}
		}
		c.Next()
	}
}

// bearerToken pulls the access token from the Authorization header,
// falling back to the token query parameter (the form websockets use).
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}
