package user

import (
	"log"
	"net/http"

	"github.com/Shashank188/CanvasCollab/auth"
	"github.com/Shashank188/CanvasCollab/internal/apierror"
	"github.com/Shashank188/CanvasCollab/internal/config"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for users.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type FormLogin struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type FormRegister struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h *Handler) Register(c *gin.Context) {
	var form FormRegister
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierror.ErrInvalidInput(err))
		return
	}

	u := &User{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		IsActive: true,
	}

	if err := h.service.Register(u); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": u.ToSafeUser()})
}

func (h *Handler) Login(c *gin.Context) {
	var form FormLogin
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierror.ErrInvalidInput(err))
		return
	}

	u, err := h.service.Login(form.Email, form.Password)
	if err != nil {
		c.Error(err)
		return
	}

	accessToken, err := auth.GenerateAccessToken(u.ID, u.TokenVersion)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}
	refreshToken, err := auth.GenerateRefreshToken(u.ID, u.TokenVersion)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	c.SetCookie(
		"refresh_token",
		refreshToken,
		7*24*3600,
		"/",
		"",
		config.AppConfig.Environment == "production",
		true,
	)

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"user":         u.ToSafeUser(),
	})
}

func (h *Handler) RefreshToken(c *gin.Context) {
	refreshToken, err := c.Cookie("refresh_token")
	if err != nil {
		c.Error(apierror.ErrUnauthorized(err))
		return
	}

	token, err := auth.VerifyJWT(refreshToken)
	if err != nil {
		c.Error(apierror.ErrUnauthorized(err).WithMessage("Invalid or expired token"))
		return
	}

	userID, tokenVersion, err := auth.GetDataFromToken(token)
	if err != nil {
		c.Error(apierror.ErrUnauthorized(err).WithMessage("Invalid token"))
		return
	}

	u, err := h.service.GetUserByID(userID)
	if err != nil {
		c.Error(apierror.ErrUnauthorized(err).WithMessage("User not found"))
		return
	}

	if u.TokenVersion != tokenVersion {
		c.Error(apierror.ErrUnauthorized(nil).WithMessage("Invalid token"))
		return
	}

	newAccessToken, err := auth.GenerateAccessToken(u.ID, u.TokenVersion)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": newAccessToken})
}

// Logout always returns 204: a failed token-version bump only means a
// stolen access token outlives this logout, not that the client's own
// session is left in a broken state, so the cookie is cleared either way.
func (h *Handler) Logout(c *gin.Context) {
	userID := c.GetUint64("user_id")

	if err := h.service.IncreaseTokenVersion(userID); err != nil {
		log.Printf("[ERROR] logout: increase token version for user %d: %v\n", userID, err)
	}

	c.SetCookie("refresh_token", "", -1, "/", "", true, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.Error(apierror.ErrUnauthorized(nil).WithMessage("user not found"))
		return
	}

	u, err := h.service.GetUserByID(userID.(uint64))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, u.ToSafeUser())
}

func (h *Handler) SearchUsers(c *gin.Context) {
	query := c.Query("q")

	users, err := h.service.SearchUsers(c.Request.Context(), query)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, users)
}
