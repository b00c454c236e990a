package user

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// Handler exposes the /users directory and admin endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the directory routes every signed-in user may call.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/users", h.List)
	rg.GET("/users/:id", h.Get)
}

// RegisterAdmin mounts the account administration routes. rg must already
// require an admin.
func (h *Handler) RegisterAdmin(rg *gin.RouterGroup) {
	rg.GET("/users/pending", h.Pending)
	rg.GET("/users/stats/overview", h.Stats)
	rg.PUT("/users/:id", h.Update)
	rg.PATCH("/users/:id", h.Update)
	rg.DELETE("/users/:id", h.Trash)
	rg.PATCH("/users/:id/activate", h.Activate)
	rg.PATCH("/users/:id/deactivate", h.Deactivate)
	rg.PATCH("/users/:id/approve", h.Approve)
	rg.PATCH("/users/:id/role", h.SetRole)
	rg.PATCH("/users/:id/state", h.SetState)
}

// UpdateRequest is the admin edit payload.
type UpdateRequest struct {
	FirstName *string       `json:"firstName"`
	LastName  *string       `json:"lastName"`
	Email     *string       `json:"email"`
	Role      *entity.Role  `json:"role"`
	State     *entity.State `json:"state"`
}

type roleRequest struct {
	Role *entity.Role `json:"role" binding:"required"`
}

type stateRequest struct {
	State *entity.State `json:"state" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	var f entity.Filter
	if v := c.Query("state"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !entity.State(n).Valid() {
			httpx.Fail(c, apperror.Validation("Invalid state filter"))
			return
		}
		st := entity.State(n)
		f.State = &st
	}
	if v := c.Query("role"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !entity.Role(n).Valid() {
			httpx.Fail(c, apperror.Validation("Invalid role filter"))
			return
		}
		r := entity.Role(n)
		f.Role = &r
	}
	f.Search = c.Query("search")
	users, err := h.svc.List(c.Request.Context(), httpx.CurrentUser(c), f)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) Pending(c *gin.Context) {
	users, err := h.svc.Pending(c.Request.Context(), httpx.CurrentUser(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), httpx.CurrentUser(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	u, err := h.svc.Get(c.Request.Context(), httpx.CurrentUser(c), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	u, err := h.svc.AdminUpdate(c.Request.Context(), httpx.CurrentUser(c), id, AdminUpdateInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Role:      req.Role,
		State:     req.State,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// lifecycle wraps the single-purpose state endpoints.
func (h *Handler) lifecycle(c *gin.Context, op func(*gin.Context, int64) (*entity.User, error), msg string) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	u, err := op(c, id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "user": u})
}

func (h *Handler) Trash(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.Trash(c.Request.Context(), httpx.CurrentUser(c), id)
	}, "User deleted successfully")
}

func (h *Handler) Activate(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.Activate(c.Request.Context(), httpx.CurrentUser(c), id)
	}, "User activated successfully")
}

func (h *Handler) Deactivate(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.Deactivate(c.Request.Context(), httpx.CurrentUser(c), id)
	}, "User deactivated successfully")
}

func (h *Handler) Approve(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.Approve(c.Request.Context(), httpx.CurrentUser(c), id)
	}, "User approved successfully")
}

func (h *Handler) SetRole(c *gin.Context) {
	var req roleRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.SetRole(c.Request.Context(), httpx.CurrentUser(c), id, *req.Role)
	}, "User role updated successfully")
}

func (h *Handler) SetState(c *gin.Context) {
	var req stateRequest
	if !httpx.BindJSON(c, &req) {
		return
	}
	h.lifecycle(c, func(c *gin.Context, id int64) (*entity.User, error) {
		return h.svc.SetState(c.Request.Context(), httpx.CurrentUser(c), id, *req.State)
	}, "User state updated successfully")
}
