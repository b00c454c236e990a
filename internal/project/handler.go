package project

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
)

// Handler exposes the /projects endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/projects", h.List)
	rg.POST("/projects", h.Create)
	rg.GET("/projects/:id", h.Get)
	rg.PUT("/projects/:id", h.Update)
	rg.DELETE("/projects/:id", h.Delete)
	rg.GET("/projects/:id/users", h.Assignments)
	rg.POST("/projects/:id/users", h.AssignUser)
	rg.DELETE("/projects/:id/users/:userId", h.UnassignUser)
	rg.GET("/projects/:id/teams", h.Teams)
	rg.POST("/projects/:id/teams", h.AssignTeam)
	rg.DELETE("/projects/:id/teams/:teamId", h.UnassignTeam)
}

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type userGrantRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

type teamGrantRequest struct {
	TeamID int64 `json:"teamId" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	out, err := h.svc.List(c.Request.Context(), httpx.CurrentUser(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), httpx.CurrentUser(c), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Create(c *gin.Context) {
	var req projectRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	p, err := h.svc.Create(c.Request.Context(), httpx.CurrentUser(c), Input{Name: req.Name, Description: req.Description})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req projectRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	p, err := h.svc.Update(c.Request.Context(), httpx.CurrentUser(c), id, Input{Name: req.Name, Description: req.Description})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), httpx.CurrentUser(c), id); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted successfully"})
}

func (h *Handler) Assignments(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Assignments(c.Request.Context(), httpx.CurrentUser(c), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Users)
}

func (h *Handler) Teams(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Assignments(c.Request.Context(), httpx.CurrentUser(c), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Teams)
}

func (h *Handler) AssignUser(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req userGrantRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	if err := h.svc.Assign(c.Request.Context(), httpx.CurrentUser(c), id, access.SubjectUser, req.UserID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User assigned to project"})
}

func (h *Handler) UnassignUser(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	userID, ok := httpx.ParamID(c, "userId")
	if !ok {
		return
	}
	if err := h.svc.Unassign(c.Request.Context(), httpx.CurrentUser(c), id, access.SubjectUser, userID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User unassigned from project"})
}

func (h *Handler) AssignTeam(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req teamGrantRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	if err := h.svc.Assign(c.Request.Context(), httpx.CurrentUser(c), id, access.SubjectTeam, req.TeamID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Team assigned to project"})
}

func (h *Handler) UnassignTeam(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	teamID, ok := httpx.ParamID(c, "teamId")
	if !ok {
		return
	}
	if err := h.svc.Unassign(c.Request.Context(), httpx.CurrentUser(c), id, access.SubjectTeam, teamID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Team unassigned from project"})
}
