package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"blakv.app/support/common/id"
	"blakv.app/support/common/logger"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/service"
	"github.com/gin-gonic/gin"
)

type contextKey string

const userContextKey contextKey = "user"

const (
	UserIDHeader    = "X-User-ID"
	SignatureHeader = "X-User-Signature"

	userIDQuery    = "user_id"
	signatureQuery = "sig"
)

var (
	ErrInvalidSignature = errors.New("invalid identity signature")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrUnknownUser      = errors.New("unknown user")
)

// Credentials returns the claimed user id and signature from the gateway
// headers.
func Credentials(r *http.Request) (userID, sig string) {
	return strings.TrimSpace(r.Header.Get(UserIDHeader)), r.Header.Get(SignatureHeader)
}

// SocketCredentials is Credentials plus the user_id and sig query
// parameters. Browsers cannot set headers on a websocket handshake, so only
// the /ws endpoint reads them.
func SocketCredentials(r *http.Request) (userID, sig string) {
	userID, sig = Credentials(r)
	if userID == "" {
		q := r.URL.Query()
		userID, sig = strings.TrimSpace(q.Get(userIDQuery)), q.Get(signatureQuery)
	}
	return userID, sig
}

// Authenticate resolves a claimed user id. An empty id is anonymous and
// yields a nil user with no error.
func Authenticate(ctx context.Context, users service.UserService, signingKey, raw, sig string) (*model.User, error) {
	if raw == "" {
		return nil, nil
	}
	if signingKey != "" && !VerifySignature(signingKey, raw, sig) {
		return nil, ErrInvalidSignature
	}

	userID, err := id.Parse(raw)
	if err != nil {
		return nil, ErrInvalidUserID
	}

	user, err := users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	return user, nil
}

// IdentityError maps an Authenticate error to a status and a client-safe
// message.
func IdentityError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidUserID), errors.Is(err, ErrUnknownUser):
		return http.StatusUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, "failed to resolve user"
	}
}

// Identity resolves the caller from the trusted gateway headers. It never
// aborts an anonymous request: routes that need a user add RequireUser.
func Identity(users service.UserService, signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, sig := Credentials(c.Request)
		user, err := Authenticate(c.Request.Context(), users, signingKey, raw, sig)
		if err != nil {
			status, msg := IdentityError(err)
			if status == http.StatusInternalServerError {
				slog.ErrorContext(c.Request.Context(), "failed to resolve user", "error", err)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		if user != nil {
			c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		}
		c.Next()
	}
}

// RequireUser rejects requests that Identity could not attach a user to.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUser(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Next()
	}
}

// RequireAgent must run after RequireUser.
func RequireAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetUser(c.Request.Context())
		if user == nil || !user.IsAgent() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agents only"})
			return
		}
		c.Next()
	}
}

func GetUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// WithUser attaches user to ctx along with its log fields.
func WithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return logger.WithLogFields(ctx, logger.LogFields{UserID: logger.Ptr(user.ID)})
}

// Sign returns the signature a gateway sends alongside userID.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(key, userID, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hmac.Equal(mac.Sum(nil), want)
}
