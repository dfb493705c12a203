package auth

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"LIBRA-backend/internal/platform/apperr"
)

const (
	CtxViewerKey = "viewer"

	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Viewer は認証済みの呼び出し元。トークンは外部の認証基盤が発行する。
type Viewer struct {
	UserID uint64
	Role   string
}

func (v Viewer) IsStaff() bool { return v.Role == RoleStaff || v.Role == RoleAdmin }

// CanSee reports whether the viewer may access a resource owned by ownerID.
func (v Viewer) CanSee(ownerID uint64) bool { return v.IsStaff() || v.UserID == ownerID }

func unauthorized(c *gin.Context, msg string) {
	apperr.Abort(c, &apperr.APIError{Code: apperr.CodeUnauthorized, Message: msg})
}

// RequireAuth: Authorization: Bearer <token> を検証して context に Viewer を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			unauthorized(c, "missing Authorization header")
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(c, "invalid Authorization header")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			unauthorized(c, "empty token")
			return
		}

		// alg 固定（none攻撃とか回避）
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || token == nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "invalid claims")
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			unauthorized(c, "missing sub")
			return
		}
		userID, err := strconv.ParseUint(sub, 10, 64)
		if err != nil || userID == 0 {
			unauthorized(c, "invalid sub")
			return
		}

		role, _ := claims["role"].(string)

		c.Set(CtxViewerKey, Viewer{UserID: userID, Role: role})
		c.Next()
	}
}

// FromContext returns the viewer stored by RequireAuth.
func FromContext(c *gin.Context) (Viewer, bool) {
	v, ok := c.Get(CtxViewerKey)
	if !ok {
		return Viewer{}, false
	}
	viewer, ok := v.(Viewer)
	return viewer, ok
}

// MustViewer aborts with 401 when no viewer is present. Returns false if aborted.
func MustViewer(c *gin.Context) (Viewer, bool) {
	v, ok := FromContext(c)
	if !ok {
		unauthorized(c, "not authenticated")
		return Viewer{}, false
	}
	return v, true
}
