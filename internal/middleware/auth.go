package middleware

import (
	"strings"

	"github.com/Shashank188/CanvasCollab/auth"
	"github.com/Shashank188/CanvasCollab/internal/apierror"
	"github.com/Shashank188/CanvasCollab/internal/user"

	"github.com/gin-gonic/gin"
)

// UserProvider decouples Auth from the concrete user.Service
// implementation so it can be unit-tested against a mock.
type UserProvider interface {
	GetUserByID(id uint64) (*user.User, error)
}

// Auth is the canonical gin middleware set: a per-user JWT check with
// token-version revocation, and a shared-secret check for process-
// internal routes.
type Auth struct {
	UserService    UserProvider
	InternalSecret string
}

// AuthMiddleWare accepts a token from either the Authorization header
// or a `token` query parameter, the latter so the WebSocket upgrade
// route (which can't set custom headers from a browser) can still
// authenticate a registered user.
func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if q := ctx.Query("token"); q != "" {
			token = q
		} else {
			ctx.Error(apierror.ErrUnauthorized(nil).WithMessage("Authorization is not found"))
			ctx.Abort()
			return
		}

		parsedToken, err := auth.VerifyJWT(token)
		if err != nil {
			ctx.Error(apierror.ErrUnauthorized(err).WithMessage("Invalid token"))
			ctx.Abort()
			return
		}

		userID, tokenVersion, err := auth.GetDataFromToken(parsedToken)
		if err != nil {
			ctx.Error(apierror.ErrUnauthorized(err).WithMessage("Invalid token"))
			ctx.Abort()
			return
		}

		u, err := m.UserService.GetUserByID(userID)
		if err != nil {
			ctx.Error(apierror.ErrUnauthorized(err).WithMessage("Invalid user id"))
			ctx.Abort()
			return
		}

		if u.TokenVersion != tokenVersion {
			ctx.Error(apierror.ErrUnauthorized(nil).WithMessage("Invalid token version"))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", userID)
		ctx.Set("username", u.Name)
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}

// InternalAuthMiddleware protects process-internal routes, such as the
// snapshot/compaction trigger, with a shared secret instead of a
// per-user JWT.
func (m *Auth) InternalAuthMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if token != m.InternalSecret {
			ctx.Error(apierror.ErrUnauthorized(nil).WithMessage("Unauthorized internal call"))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
