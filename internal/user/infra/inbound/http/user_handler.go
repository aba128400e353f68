package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/outboxlab/internal/user/application"
	"github.com/davicafu/outboxlab/internal/user/domain"
	"github.com/davicafu/outboxlab/pkg/utils"
)

// UserHandler encapsula los endpoints HTTP relacionados con User
type UserHandler struct {
	service *application.UserService
	log     *zap.Logger
}

func NewUserHandler(service *application.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{service: service, log: log}
}

// RegisterUser endpoint POST /users
func (h *UserHandler) RegisterUser(c *gin.Context) {
	var req struct {
		Email  string `json:"email" binding:"required,email"`
		Nombre string `json:"nombre" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Email, req.Nombre)
	switch {
	case errors.Is(err, domain.ErrInvalidUser):
		utils.SendBadRequest(c, err.Error())
		return
	case errors.Is(err, domain.ErrUserAlreadyExists):
		utils.SendConflict(c, "user already exists")
		return
	case err != nil:
		h.log.Error("Register user failed", zap.Error(err))
		utils.SendInternalServerError(c)
		return
	}

	utils.SendSuccess(c, http.StatusCreated, user)
}

// GetUser endpoint GET /users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid user id")
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			utils.SendNotFound(c, "user not found")
			return
		}
		h.log.Error("Get user failed", zap.String("user_id", id.String()), zap.Error(err))
		utils.SendInternalServerError(c)
		return
	}

	utils.SendSuccess(c, http.StatusOK, user)
}
