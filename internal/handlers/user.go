// Package handlers implements the business routes of the webapp.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/apperrors"
	"github.com/piwi3910/webapp/internal/events"
	"github.com/piwi3910/webapp/internal/middleware"
	"github.com/piwi3910/webapp/internal/storage"
)

const (
	// DefaultPage is the page returned when none is requested.
	DefaultPage = 1

	// DefaultLimit is the page size returned when none is requested.
	DefaultLimit = 10

	// MaxLimit caps the page size.
	MaxLimit = 100

	// MissingFieldsMessage is returned when name or email is absent.
	MissingFieldsMessage = "Name and email are required"

	publishTimeout = 2 * time.Second
)

// UserHandler handles the /api/v1/users endpoints.
type UserHandler struct {
	store     storage.Store
	publisher events.Publisher
	logger    *zap.Logger
}

// NewUserHandler creates a new UserHandler. The publisher may be nil, in
// which case no events are published.
func NewUserHandler(store storage.Store, publisher events.Publisher, logger *zap.Logger) *UserHandler {
	if store == nil {
		panic("user store cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	return &UserHandler{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("users"),
	}
}

// CreateUserRequest represents the request body for creating a user. It is
// accepted as JSON or as a URL-encoded form.
type CreateUserRequest struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// UserListResponse is the body of a user listing.
type UserListResponse struct {
	Users []*storage.User `json:"users"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// ListUsers handles GET /api/v1/users.
func (h *UserHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	page := queryInt(c, "page", DefaultPage)
	limit := min(queryInt(c, "limit", DefaultLimit), MaxLimit)

	users, err := h.store.List(ctx, (page-1)*limit, limit)
	if err != nil {
		_ = c.Error(&apperrors.InternalError{Op: "list users", Err: err})
		return
	}

	total, err := h.store.Count(ctx)
	if err != nil {
		_ = c.Error(&apperrors.InternalError{Op: "count users", Err: err})
		return
	}

	c.JSON(http.StatusOK, UserListResponse{
		Users: users,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetUser handles GET /api/v1/users/:id.
func (h *UserHandler) GetUser(c *gin.Context) {
	id := c.Param("id")

	user, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			_ = c.Error(&apperrors.NotFoundError{Resource: "user", ID: id})
			return
		}
		_ = c.Error(&apperrors.InternalError{Op: "get user", Err: err})
		return
	}

	c.JSON(http.StatusOK, user)
}

// CreateUser handles POST /api/v1/users.
// Missing fields and malformed bodies are answered here with 400; storage
// failures are passed to the error boundary.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := bindCreateRequest(c, &req); err != nil && !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			_ = c.Error(err)
			return
		}

		h.logger.Debug("invalid request body",
			zap.String("correlation_id", middleware.CorrelationID(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(bodyErrorMessage(err, c.ContentType())))
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		c.JSON(http.StatusBadRequest, apperrors.BadRequest(MissingFieldsMessage))
		return
	}

	user := storage.NewUser(name, email)
	if err := h.store.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			_ = c.Error(&apperrors.ConflictError{Message: "Email is already registered", Err: err})
			return
		}
		_ = c.Error(&apperrors.InternalError{Op: "create user", Err: err})
		return
	}

	h.logger.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("correlation_id", middleware.CorrelationID(c)),
	)
	h.publishCreated(c, user)

	c.JSON(http.StatusCreated, user)
}

// publishCreated emits user.created. Failures are logged and do not affect
// the response.
func (h *UserHandler) publishCreated(c *gin.Context, user *storage.User) {
	if h.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), publishTimeout)
	defer cancel()

	event := events.NewEvent(events.TypeUserCreated, user.ID, middleware.CorrelationID(c), user)
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish event",
			zap.String("event_type", events.TypeUserCreated.String()),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

// bindCreateRequest decodes form posts with the form binding and everything
// else as JSON.
func bindCreateRequest(c *gin.Context, req *CreateUserRequest) error {
	if c.ContentType() == binding.MIMEPOSTForm {
		return c.ShouldBindWith(req, binding.Form)
	}
	return c.ShouldBindJSON(req)
}

// bodyErrorMessage maps a decoding error to a client message.
func bodyErrorMessage(err error, contentType string) string {
	if contentType == binding.MIMEPOSTForm {
		return apperrors.MalformedFormMessage
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return "Invalid field " + typeErr.Field
	}
	return apperrors.MalformedJSONMessage
}

// queryInt parses a positive integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
