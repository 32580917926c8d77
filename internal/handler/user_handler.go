package handler

import (
	"errors"
	"net/http"

	"constructlink/internal/middleware"
	"constructlink/internal/service"
	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	userService  service.UserService
	auth         *middleware.Authenticator
	secureCookie bool
	log          *zap.Logger
}

// NewUserHandler sets up the routing dependencies for session endpoints
func NewUserHandler(userService service.UserService, auth *middleware.Authenticator, secureCookie bool, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, auth: auth, secureCookie: secureCookie, log: log}
}

func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/api/login", h.Login)
	router.POST("/api/logout", h.Logout)
	router.GET("/api/me", h.auth.RequireAuth(), h.GetMe)
}

// Login handles POST /api/login to authenticate and return a JWT token
// @Summary      Login user
// @Description  Authenticates by username and password. The token is returned and also set as an HttpOnly cookie.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginUserRequest  true  "Login Credentials"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /api/login [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}

	tokenRes, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}
		respondError(c, h.log, err)
		return
	}

	middleware.SetTokenCookie(c, tokenRes.Token, tokenRes.ExpiresAt, h.secureCookie)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tokenRes))
}

// Logout handles POST /api/logout to clear the auth cookie
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/logout [post]
func (h *UserHandler) Logout(c *gin.Context) {
	middleware.ClearTokenCookie(c, h.secureCookie)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Logged out"))
}

// GetMe returns the authenticated user with their current project
// @Summary      Current user
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.UserResponse}
// @Failure      401  {object}  response.Response
// @Router       /api/me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	user, err := h.userService.Me(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, user))
}
