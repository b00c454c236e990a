package team

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
)

// Handler exposes the /teams endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the team routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/teams", h.List)
	rg.GET("/teams/mine", h.Mine)
	rg.POST("/teams", h.Create)
	rg.GET("/teams/:id", h.Get)
	rg.PUT("/teams/:id", h.Update)
	rg.DELETE("/teams/:id", h.Delete)
	rg.GET("/teams/:id/members", h.Members)
	rg.POST("/teams/:id/members", h.AddMember)
	rg.DELETE("/teams/:id/members/:userId", h.RemoveMember)
	rg.POST("/teams/:id/batch-add-members", h.BatchAdd)
	rg.POST("/teams/:id/remove-members", h.BatchRemove)
}

type teamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type memberRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

type batchRequest struct {
	UserIDs []int64 `json:"userIds" binding:"required,min=1"`
}

func (h *Handler) List(c *gin.Context) {
	teams, err := h.svc.List(c.Request.Context())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, teams)
}

func (h *Handler) Mine(c *gin.Context) {
	teams, err := h.svc.Mine(c.Request.Context(), httpx.CurrentUser(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, teams)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) Create(c *gin.Context) {
	var req teamRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	t, err := h.svc.Create(c.Request.Context(), httpx.CurrentUser(c), Input{Name: req.Name, Description: req.Description})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req teamRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	t, err := h.svc.Update(c.Request.Context(), httpx.CurrentUser(c), id, Input{Name: req.Name, Description: req.Description})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
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
	c.JSON(http.StatusOK, gin.H{"message": "Team deleted successfully"})
}

func (h *Handler) Members(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t.Members)
}

func (h *Handler) AddMember(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req memberRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	if err := h.svc.AddMember(c.Request.Context(), httpx.CurrentUser(c), id, req.UserID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User added to team"})
}

func (h *Handler) RemoveMember(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	userID, ok := httpx.ParamID(c, "userId")
	if !ok {
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), httpx.CurrentUser(c), id, userID); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User removed from team"})
}

func (h *Handler) BatchAdd(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req batchRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	n, err := h.svc.BatchAddMembers(c.Request.Context(), httpx.CurrentUser(c), id, req.UserIDs)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Members added", "added": n})
}

func (h *Handler) BatchRemove(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req batchRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	n, err := h.svc.BatchRemoveMembers(c.Request.Context(), httpx.CurrentUser(c), id, req.UserIDs)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Members removed", "removed": n})
}
