// Auth middleware resolves the user behind an event stream or publish request from a JWT.
// EventSource cannot set headers, so the token is also accepted as a cookie or query parameter.

package auth

import (
	"Shipper/internal/errors"
	"Shipper/pkg/log"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// UserIDKey is the gin context key holding the resolved user id.
const UserIDKey = "UserID"

const tokenName = "access_token"

// UserMiddleware parses the access token, if any, and stores its user id in the request context.
// With required set, requests without a valid token are rejected.
// An empty secret disables token parsing, every request is then anonymous.
func UserMiddleware(logger log.Logger, secret string, required bool) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		token := fetchToken(gctx)
		if token == "" || secret == "" {
			if required {
				gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
				return
			}
			gctx.Next()
			return
		}
		userID, valerr := parseUserID(secret, token)
		if valerr != nil {
			// Invalid tokens are rejected even on optional routes
			logger.WithCtx(gctx).Warn().Err(valerr).Msg("Rejected access token")
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}
		// Set UserID in request's context
		// This pair will be used further down in the handler chain
		gctx.Set(UserIDKey, userID)
		gctx.Next()
	}
}

// UserID returns the user resolved by UserMiddleware, empty for anonymous requests.
func UserID(gctx *gin.Context) string {
	return gctx.GetString(UserIDKey)
}

// Helper to fetch token string from the Authorization header, cookie or query, in that order.
func fetchToken(gctx *gin.Context) string {
	if bearer, ok := strings.CutPrefix(gctx.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	if cookie, err := gctx.Request.Cookie(tokenName); err == nil {
		return cookie.Value
	}
	return gctx.Query("token")
}

// Helper to parse the token and extract the "user_id" claim, falling back to "sub".
func parseUserID(secret, token string) (string, error) {
	vrftoken, prserr := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method found: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if prserr != nil {
		return "", prserr
	}
	tokenclaims, ok := vrftoken.Claims.(jwt.MapClaims)
	if !ok || !vrftoken.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if userID, ok := tokenclaims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, ok := tokenclaims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("token carries no user id")
}

// CreateToken signs an HS256 access token for userID, valid for ttl.
// Used by the token command to mint development tokens.
func CreateToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":           userID,
		tokenName + "_uuid": uuid.NewString(),
		"iat":               now.Unix(),
		"exp":               now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// InternalHeader carries the shared secret of service to service calls.
const InternalHeader = "X-Internal-Token"

// InternalMiddleware admits requests carrying the shared internal token.
// With an empty token the guarded routes answer 404, as if they did not exist.
func InternalMiddleware(logger log.Logger, token string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		if token == "" {
			gctx.AbortWithStatusJSON(http.StatusNotFound, errors.NotFound(""))
			return
		}
		given := gctx.GetHeader(InternalHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			logger.WithCtx(gctx).Warn().Str("client_ip", gctx.ClientIP()).Msg("Rejected internal API call")
			gctx.AbortWithStatusJSON(http.StatusUnauthorized, errors.Unauthorized(""))
			return
		}
		gctx.Next()
	}
}
