package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"constructlink/internal/model"
	"constructlink/internal/workflow"
	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Claims is the token payload issued at login.
type Claims struct {
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	ProjectID *int64 `json:"project_id,omitempty"`
	jwt.RegisteredClaims
}

// UserLookup reloads the user behind a token so role and project changes
// take effect before the token expires.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// Authenticator issues and verifies HMAC-signed access tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, users UserLookup) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}
}

// Issue signs a token for the user.
func (a *Authenticator) Issue(u *model.User) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		Role:      string(u.Role),
		Name:      u.DisplayName(),
		ProjectID: u.CurrentProjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the token and returns the actor it was issued to.
func (a *Authenticator) Parse(tokenString string) (workflow.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return workflow.Actor{}, err
	}
	if !token.Valid {
		return workflow.Actor{}, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return workflow.Actor{}, fmt.Errorf("invalid token subject %q", claims.Subject)
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return workflow.Actor{}, fmt.Errorf("invalid token role %q", claims.Role)
	}
	return workflow.Actor{
		ID:               id,
		Name:             claims.Name,
		Role:             role,
		CurrentProjectID: claims.ProjectID,
	}, nil
}

// Resolve parses the token and, when a user lookup is configured, refreshes
// the actor from the stored user.
func (a *Authenticator) Resolve(ctx context.Context, tokenString string) (workflow.Actor, error) {
	actor, err := a.Parse(tokenString)
	if err != nil {
		return actor, err
	}
	if a.users == nil {
		return actor, nil
	}
	u, err := a.users.GetByID(ctx, actor.ID)
	if err != nil {
		return workflow.Actor{}, fmt.Errorf("token user %d: %w", actor.ID, err)
	}
	return workflow.ActorFromUser(u), nil
}

// RequireAuth validates the access token from the cookie or the Authorization
// header and stores the actor on the context.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		actor, err := a.Resolve(c.Request.Context(), tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		c.Set(actorKey, actor)
		c.Set("userID", actor.ID)
		c.Set("userRole", string(actor.Role))
		c.Next()
	}
}

// RequireAction rejects actors whose role may never perform action. Status and
// project checks happen later in the workflow validator.
func RequireAction(roles *workflow.RoleResolver, action workflow.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
			return
		}
		if !roles.Permits(actor.Role, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden,
				fmt.Sprintf("Access denied: %s may not %s transfers", actor.Role, action)))
			return
		}
		c.Next()
	}
}

// CurrentActor returns the actor stored by RequireAuth.
func CurrentActor(c *gin.Context) (workflow.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return workflow.Actor{}, false
	}
	actor, ok := v.(workflow.Actor)
	return actor, ok
}

// SetTokenCookie stores the access token as an HttpOnly cookie.
func SetTokenCookie(c *gin.Context, token string, expires time.Time, secure bool) {
	// Cross-origin frontends in release need SameSite=None, which browsers only accept with Secure.
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	maxAge := int(time.Until(expires).Seconds())
	c.SetCookie("access_token", token, maxAge, "/", "", secure, true)
}

// ClearTokenCookie removes the access token cookie.
func ClearTokenCookie(c *gin.Context, secure bool) {
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
}

// RequireRoles only lets the listed roles through. System Admin always passes.
func RequireRoles(allowed ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
			return
		}
		if actor.Role == model.RoleSystemAdmin {
			c.Next()
			return
		}
		for _, r := range allowed {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}
