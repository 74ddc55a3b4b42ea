package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type mockAuthUsers struct {
	byEmail   map[string]*models.User
	byNIM     map[string]*models.User
	audited   []*models.AuditLog
	lastLogin []string
}

func (m *mockAuthUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUsers) FindByNIM(ctx context.Context, nim string) (*models.User, error) {
	if u, ok := m.byNIM[nim]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUsers) TouchLastLogin(ctx context.Context, id string) error {
	m.lastLogin = append(m.lastLogin, id)
	return nil
}

func (m *mockAuthUsers) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	m.audited = append(m.audited, entry)
	return nil
}

type mockAuthStudents struct {
	byUserID map[string]*models.StudentDetail
}

func (m *mockAuthStudents) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	if s, ok := m.byUserID[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:             "test-secret-key",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "sister-api",
	}
}

func newTestAuthService(t *testing.T) (*AuthService, *mockAuthUsers) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("rahasia123"), bcrypt.MinCost)
	require.NoError(t, err)

	student := &models.User{
		ID:           "u-student",
		Email:        "budi@kampus.ac.id",
		PasswordHash: string(hash),
		FullName:     "Budi Santoso",
		Role:         models.RoleStudent,
		Active:       true,
	}
	admin := &models.User{
		ID:           "u-admin",
		Email:        "admin@kampus.ac.id",
		PasswordHash: string(hash),
		FullName:     "Siti Aminah",
		Role:         models.RoleAdmin,
		Active:       true,
	}
	users := &mockAuthUsers{
		byEmail: map[string]*models.User{student.Email: student, admin.Email: admin},
		byNIM:   map[string]*models.User{"2024010001": student},
	}
	students := &mockAuthStudents{byUserID: map[string]*models.StudentDetail{
		"u-student": {Student: models.Student{ID: "st-1", NIM: "2024010001", UserID: "u-student"}},
	}}
	return NewAuthService(users, students, nil, nil, testAuthConfig()), users
}

func TestLoginByEmail(t *testing.T) {
	svc, users := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "st-1", resp.User.StudentID)
	assert.Equal(t, []string{"u-student"}, users.lastLogin)
	require.Len(t, users.audited, 1)
	assert.Equal(t, models.AuditActionLogin, users.audited[0].Action)
}

func TestLoginByNIM(t *testing.T) {
	svc, _ := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		NIM:      "2024010001",
		Password: "rahasia123",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-student", resp.User.ID)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, users := newTestAuthService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "salah",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
	assert.Empty(t, users.lastLogin)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@kampus.ac.id",
		Password: "rahasia123",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, users := newTestAuthService(t)
	users.byEmail["budi@kampus.ac.id"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestLoginRequiresIdentifier(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Password: "rahasia123"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc, _ := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-student", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "st-1", claims.StudentID)
}

func TestValidateTokenRejectsRefreshToken(t *testing.T) {
	svc, _ := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.RefreshToken)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestValidateTokenRejectsForgedSignature(t *testing.T) {
	svc, _ := newTestAuthService(t)
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)

	other := NewAuthService(nil, nil, nil, nil, AuthConfig{Secret: "different-secret"})
	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
}

func TestRefreshTokenIssuesNewPair(t *testing.T) {
	svc, _ := newTestAuthService(t)
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: resp.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEmpty(t, refreshed.RefreshToken)

	claims, err := svc.ValidateToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "st-1", claims.StudentID)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "budi@kampus.ac.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: resp.AccessToken,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
