package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

type Handler struct {
	users  *user.Service
	issuer *Issuer
	logger *zap.SugaredLogger
}

func NewHandler(users *user.Service, issuer *Issuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{users: users, issuer: issuer, logger: logger}
}

// RegisterPublic mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublic(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/extension-login", h.ExtensionLogin)
	rg.POST("/verify-email/:token", h.VerifyEmail)
	rg.GET("/verify-email/:token", h.VerifyEmail)
	rg.POST("/resend-verification", h.ResendVerification)
}

// RegisterSession mounts the endpoints that need a bearer token.
func (h *Handler) RegisterSession(rg *gin.RouterGroup) {
	rg.GET("/me", h.Me)
	rg.PUT("/me", h.UpdateMe)
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type resendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type profileRequest struct {
	FirstName       *string       `json:"firstName"`
	LastName        *string       `json:"lastName"`
	Email           *string       `json:"email"`
	CurrentPassword string        `json:"currentPassword"`
	NewPassword     string        `json:"newPassword"`
	Role            *entity.Role  `json:"role"`
	State           *entity.State `json:"state"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *entity.User `json:"user"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if !u.IsActive() {
		c.JSON(http.StatusCreated, gin.H{
			"message": "Registration successful. Please check your email to verify your address.",
			"user":    u,
		})
		return
	}
	token, exp, err := h.issuer.Issue(u, AudienceWeb)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":   "Registration successful",
		"user":      u,
		"token":     token,
		"expiresAt": exp,
	})
}

func (h *Handler) Login(c *gin.Context) { h.login(c, AudienceWeb) }

// ExtensionLogin issues the long-lived token the browser extension keeps.
func (h *Handler) ExtensionLogin(c *gin.Context) { h.login(c, AudienceExtension) }

func (h *Handler) login(c *gin.Context, aud Audience) {
	var req loginRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	token, exp, err := h.issuer.Issue(u, aud)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	h.logger.Infow("user logged in", "user_id", u.ID, "audience", string(aud))
	c.JSON(http.StatusOK, sessionResponse{Token: token, ExpiresAt: exp, User: u})
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	u, err := h.users.VerifyEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	msg := "Email verified successfully"
	if !u.IsActive() {
		msg = "Email verified successfully. An administrator will approve your account."
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "user": u})
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req resendRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	if err := h.users.ResendVerification(c.Request.Context(), req.Email); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the account exists and is unverified, a verification email has been sent"})
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, httpx.CurrentUser(c))
}

// UpdateMe applies a profile update. A password change revokes every
// earlier token, so a fresh one is returned with the user.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req profileRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	actor := httpx.CurrentUser(c)
	u, err := h.users.UpdateProfile(c.Request.Context(), actor, user.ProfileInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Role:            req.Role,
		State:           req.State,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	resp := gin.H{"message": "Profile updated successfully", "user": u}
	if u.TokenVersion != actor.TokenVersion {
		token, exp, err := h.issuer.Issue(u, AudienceWeb)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		resp["token"] = token
		resp["expiresAt"] = exp
	}
	c.JSON(http.StatusOK, resp)
}
