// Package api implements the user CRUD surface. Handlers depend on small
// locally defined interfaces so they can be tested against fakes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"wisher/internal/types"
	"wisher/internal/tzcal"
)

// UserRepo is the data access contract for user operations.
type UserRepo interface {
	Get(ctx context.Context, id string) (*types.User, error)
	Put(ctx context.Context, u *types.User) error
	Delete(ctx context.Context, id string) error
}

// CreateUserRequest is the request body for POST /user.
type CreateUserRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	BirthDate string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Timezone  string `json:"timezone" validate:"required"`
}

// UpdateUserRequest is the request body for PUT /user/{id}. Omitted fields
// keep their stored values.
type UpdateUserRequest struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	BirthDate *string `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Timezone  *string `json:"timezone,omitempty"`
}

// UserHandler manages user CRUD.
type UserHandler struct {
	repo     UserRepo
	validate *validator.Validate
	clock    types.Clock
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler with the given dependencies.
func NewUserHandler(repo UserRepo, clock types.Clock, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clock,
		logger:   logger,
	}
}

// RegisterRoutes mounts the user routes on the provided chi.Router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/user", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /user.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderError(w, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	monthDay, err := validateRecurrenceFields(req.BirthDate, req.Timezone)
	if err != nil {
		renderError(w, err)
		return
	}

	now := h.clock.Now()
	u := &types.User{
		ID:            uuid.NewString(),
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		BirthDate:     req.BirthDate,
		Timezone:      req.Timezone,
		BirthMonthDay: monthDay,
		Deliveries:    map[string]types.DeliveryMarker{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.repo.Put(r.Context(), u); err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to store user", err))
		return
	}

	h.logger.InfoContext(r.Context(), "user created", slog.String("user_id", u.ID))
	renderJSON(w, http.StatusCreated, APIResponse{Data: u})
}

// Get handles GET /user/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.repo.Get(r.Context(), id)
	if err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to load user", err))
		return
	}
	if u == nil {
		renderError(w, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
		return
	}

	renderJSON(w, http.StatusOK, APIResponse{Data: u})
}

// Update handles PUT /user/{id}.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderError(w, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	u, err := h.repo.Get(r.Context(), id)
	if err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to load user", err))
		return
	}
	if u == nil {
		renderError(w, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
		return
	}

	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.BirthDate != nil {
		u.BirthDate = *req.BirthDate
	}
	if req.Timezone != nil {
		u.Timezone = *req.Timezone
	}

	// The recurrence key follows the birth date on every write.
	monthDay, verr := validateRecurrenceFields(u.BirthDate, u.Timezone)
	if verr != nil {
		renderError(w, verr)
		return
	}
	u.BirthMonthDay = monthDay
	u.UpdatedAt = h.clock.Now()

	if err := h.repo.Put(r.Context(), u); err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to store user", err))
		return
	}

	h.logger.InfoContext(r.Context(), "user updated", slog.String("user_id", u.ID))
	renderJSON(w, http.StatusOK, APIResponse{Data: u})
}

// Delete handles DELETE /user/{id}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.repo.Get(r.Context(), id)
	if err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to load user", err))
		return
	}
	if u == nil {
		renderError(w, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		renderError(w, types.NewAppError(types.ErrCodeInternalStore, "failed to delete user", err))
		return
	}

	h.logger.InfoContext(r.Context(), "user deleted", slog.String("user_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// validateRecurrenceFields checks the birth date and timezone together and
// returns the derived MM-DD recurrence key.
func validateRecurrenceFields(birthDate, timezone string) (string, error) {
	monthDay, err := tzcal.MonthDayKey(birthDate)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidDate,
			"birth_date must be a valid YYYY-MM-DD date", err)
	}
	if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
		if err == nil {
			err = errors.New("empty timezone")
		}
		return "", types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			"timezone must be a valid IANA zone name", err)
	}
	return monthDay, nil
}
