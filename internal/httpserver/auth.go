package httpserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "userID"

// authMiddleware resolves an optional bearer token into the current user.
// Requests without a token pass as guests; a present but invalid token is
// rejected.
func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || len(secret) == 0 {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		token, err := jwt.Parse(strings.TrimSpace(parts[1]), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		userID, _ := claims["sub"].(string)
		if userID == "" {
			userID, _ = claims["user_id"].(string)
		}
		if userID == "" {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUserID(c) == "" {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		c.Next()
	}
}

// adminMiddleware accepts requests carrying one of keys in X-API-Key.
func adminMiddleware(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if got == "" {
			abortWith(c, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(got), []byte(k)) == 1 {
				c.Next()
				return
			}
		}
		abortWith(c, http.StatusForbidden, msgForbidden)
	}
}
