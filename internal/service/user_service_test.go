package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/export"
)

type mockUserRepo struct {
	users   map[string]*models.User
	roles   map[string]models.UserRole
	deleted []string
	audits  []models.AuditLog
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[string]*models.User), roles: make(map[string]models.UserRole)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if filter.Page > 1 {
		return nil, len(m.users), nil
	}
	var list []models.User
	for _, u := range m.users {
		list = append(list, *u)
	}
	return list, len(list), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.roles[id] = role
	if u, ok := m.users[id]; ok {
		u.Role = role
	}
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func TestApproveMentorPromotesStudent(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Role: models.RoleStudent, Active: true})
	svc := NewUserService(repo, export.NewCSVExporter(), validator.New(), nil)

	user, err := svc.ApproveMentor(context.Background(), "admin-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMentor, user.Role)
	assert.Equal(t, models.RoleMentor, repo.roles["u1"])
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionApproveMentor, repo.audits[0].Action)
}

func TestApproveMentorRejectsMentorAndAdmin(t *testing.T) {
	repo := newMockUserRepo(
		&models.User{ID: "m1", Role: models.RoleMentor},
		&models.User{ID: "a1", Role: models.RoleAdmin},
	)
	svc := NewUserService(repo, export.NewCSVExporter(), validator.New(), nil)

	for _, target := range []string{"m1", "a1"} {
		_, err := svc.ApproveMentor(context.Background(), "admin-1", target)
		require.Error(t, err)
		assert.Equal(t, "INVALID_TRANSITION", appErrors.FromError(err).Code)
	}
	assert.Empty(t, repo.roles)
}

func TestApproveMentorUnknownUser(t *testing.T) {
	svc := NewUserService(newMockUserRepo(), export.NewCSVExporter(), validator.New(), nil)

	_, err := svc.ApproveMentor(context.Background(), "admin-1", "u404")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestUserDeleteIsSoft(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Role: models.RoleStudent})
	svc := NewUserService(repo, export.NewCSVExporter(), validator.New(), nil)

	require.NoError(t, svc.Delete(context.Background(), "admin-1", "u1"))
	assert.Contains(t, repo.deleted, "u1")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.audits[0].Action)
}

func TestExportCSVRendersUsers(t *testing.T) {
	repo := newMockUserRepo(&models.User{ID: "u1", Email: "ada@example.com", FullName: "Ada Lovelace", Role: models.RoleStudent, Active: true})
	svc := NewUserService(repo, export.NewCSVExporter(), validator.New(), nil)

	data, err := svc.ExportCSV(context.Background(), models.UserFilter{})
	require.NoError(t, err)

	content := string(data)
	assert.True(t, strings.HasPrefix(content, "id,email,full_name,role,active,created_at"))
	assert.Contains(t, content, "ada@example.com")
	assert.Contains(t, content, "STUDENT")
}
