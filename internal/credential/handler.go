package credential

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
)

// Handler exposes the /credentials endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/credentials", h.List)
	rg.POST("/credentials", h.Create)
	rg.GET("/credentials/for-url", h.ForURL)
	rg.GET("/credentials/:id", h.Get)
	rg.PUT("/credentials/:id", h.Update)
	rg.DELETE("/credentials/:id", h.Delete)
	rg.POST("/credentials/:id/use", h.Use)
	rg.GET("/credentials/:id/users", h.Assignments)
	rg.POST("/credentials/:id/users", h.AssignUser)
	rg.DELETE("/credentials/:id/users/:userId", h.UnassignUser)
	rg.GET("/credentials/:id/teams", h.Teams)
	rg.POST("/credentials/:id/teams", h.AssignTeam)
	rg.DELETE("/credentials/:id/teams/:teamId", h.UnassignTeam)
}

type credentialRequest struct {
	Label       *string `json:"label"`
	URL         *string `json:"url"`
	URLPattern  *string `json:"urlPattern"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	Description *string `json:"description"`
	ProjectID   *int64  `json:"projectId"`
}

func (r credentialRequest) input() Input {
	return Input{
		Label:       r.Label,
		URL:         r.URL,
		URLPattern:  r.URLPattern,
		Username:    r.Username,
		Password:    r.Password,
		Description: r.Description,
		ProjectID:   r.ProjectID,
	}
}

type userGrantRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

type teamGrantRequest struct {
	TeamID int64 `json:"teamId" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	projectID, ok := httpx.QueryID(c, "projectId")
	if !ok {
		return
	}
	out, err := h.svc.List(c.Request.Context(), httpx.CurrentUser(c), entity.Filter{ProjectID: projectID, Search: c.Query("search")})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ForURL(c *gin.Context) {
	out, err := h.svc.ForURL(c.Request.Context(), httpx.CurrentUser(c), c.Query("url"))
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
	cred, err := h.svc.Get(c.Request.Context(), httpx.CurrentUser(c), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cred)
}

func (h *Handler) Create(c *gin.Context) {
	var req credentialRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	cred, err := h.svc.Create(c.Request.Context(), httpx.CurrentUser(c), req.input())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req credentialRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	cred, err := h.svc.Update(c.Request.Context(), httpx.CurrentUser(c), id, req.input())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cred)
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
	c.JSON(http.StatusOK, gin.H{"message": "Credential deleted successfully"})
}

func (h *Handler) Use(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.RecordUse(c.Request.Context(), httpx.CurrentUser(c), id); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Usage recorded"})
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
	c.JSON(http.StatusCreated, gin.H{"message": "User assigned to credential"})
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
	c.JSON(http.StatusOK, gin.H{"message": "User unassigned from credential"})
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
	c.JSON(http.StatusCreated, gin.H{"message": "Team assigned to credential"})
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
	c.JSON(http.StatusOK, gin.H{"message": "Team unassigned from credential"})
}
