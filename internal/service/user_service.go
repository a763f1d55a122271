package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/export"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userExporter interface {
	Render(data export.Dataset) ([]byte, error)
}

// UserService handles admin user-base workflows.
type UserService struct {
	repo      userRepository
	exporter  userExporter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, exporter userExporter, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, exporter: exporter, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}

	return users, pagination, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// ApproveMentor promotes a student to mentor. The transition is one-way and
// deliberately not idempotent: promoting an existing mentor or an admin is
// rejected.
func (s *UserService) ApproveMentor(ctx context.Context, actorID, targetID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	switch user.Role {
	case models.RoleMentor:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "user is already a mentor")
	case models.RoleAdmin:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "admins cannot be demoted to mentor")
	}

	if err := s.repo.UpdateRole(ctx, targetID, models.RoleMentor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}
	user.Role = models.RoleMentor

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionApproveMentor,
		Resource:   "users",
		ResourceID: &targetID,
		NewValues:  []byte(`{"role":"MENTOR"}`),
	}); err != nil {
		s.logger.Warn("failed to record approve-mentor audit log", zap.Error(err))
	}

	return user, nil
}

// Delete deactivates a user account.
func (s *UserService) Delete(ctx context.Context, actorID, targetID string) error {
	if _, err := s.repo.FindByID(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.repo.Delete(ctx, targetID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserDelete,
		Resource:   "users",
		ResourceID: &targetID,
		NewValues:  []byte(`{"active":false}`),
	}); err != nil {
		s.logger.Warn("failed to record user delete audit log", zap.Error(err))
	}

	return nil
}

// ExportCSV renders the filtered user base as CSV bytes for admin audits.
func (s *UserService) ExportCSV(ctx context.Context, filter models.UserFilter) ([]byte, error) {
	filter.Page = 1
	filter.PageSize = 100
	dataset := export.Dataset{Headers: []string{"id", "email", "full_name", "role", "active", "created_at"}}

	for {
		users, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users for export")
		}
		for _, u := range users {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"id":         u.ID,
				"email":      u.Email,
				"full_name":  u.FullName,
				"role":       string(u.Role),
				"active":     fmt.Sprintf("%t", u.Active),
				"created_at": u.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
		}
		if len(dataset.Rows) >= total || len(users) == 0 {
			break
		}
		filter.Page++
	}

	data, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render user export")
	}
	return data, nil
}
