package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/password"
	"cmsguard/internal/auth/service/mocks"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/sentinel"
	"cmsguard/pkg/requestcontext"
)

var errStoreDown = errors.New("connection refused")

// StoreFailureSuite covers store errors that the in-memory stores never produce.
type StoreFailureSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	users    *mocks.MockUserStore
	sessions *mocks.MockSessionStore
	auditor  *mocks.MockAuditPublisher
	hasher   *password.Hasher
	service  *Service
	ctx      context.Context
	now      time.Time
}

func TestStoreFailureSuite(t *testing.T) {
	suite.Run(t, new(StoreFailureSuite))
}

func (s *StoreFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.users = mocks.NewMockUserStore(s.ctrl)
	s.sessions = mocks.NewMockSessionStore(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.hasher = password.NewHasher(bcrypt.MinCost)
	s.now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	svc, err := New(s.users, s.sessions, s.hasher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.auditor),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *StoreFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *StoreFailureSuite) user(pw string) *models.User {
	hash, err := s.hasher.Hash(pw)
	s.Require().NoError(err)
	u, err := models.NewUser("editor", "editor@example.com", hash, models.RoleEditor, s.now)
	s.Require().NoError(err)
	return u
}

func (s *StoreFailureSuite) TestLoginUserLookupFails() {
	s.users.EXPECT().FindByUsername(gomock.Any(), "editor").Return(nil, errStoreDown)

	_, err := s.service.Login(s.ctx, "editor", testPassword)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.NotErrorIs(err, ErrInvalidCredentials)
}

func (s *StoreFailureSuite) TestLoginUpdateFailsBeforeSession() {
	u := s.user(testPassword)
	s.users.EXPECT().FindByUsername(gomock.Any(), "editor").Return(u, nil)
	s.users.EXPECT().Update(gomock.Any(), u).Return(errStoreDown)
	s.sessions.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.service.Login(s.ctx, "editor", testPassword)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *StoreFailureSuite) TestLoginSessionCreateFails() {
	u := s.user(testPassword)
	s.users.EXPECT().FindByUsername(gomock.Any(), "editor").Return(u, nil)
	s.users.EXPECT().Update(gomock.Any(), u).Return(nil)
	s.sessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errStoreDown)

	_, err := s.service.Login(s.ctx, "editor", testPassword)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *StoreFailureSuite) TestRecordFailedAttemptUpdateFails() {
	u := s.user(testPassword)
	s.users.EXPECT().Update(gomock.Any(), u).Return(errStoreDown)

	_, err := s.service.RecordFailedAttempt(s.ctx, u, "203.0.113.5", "curl/8.0")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *StoreFailureSuite) TestRecordFailedAttemptAuditsIPAndAgent() {
	u := s.user(testPassword)
	s.users.EXPECT().Update(gomock.Any(), u).Return(nil)
	s.auditor.EXPECT().Record(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e audit.Entry) {
		s.Equal(audit.ActionLoginFailed, e.Action)
		s.Equal("203.0.113.5", e.IPAddress)
		s.Equal("curl/8.0", e.UserAgent)
		s.Equal(1, e.Details["attempt"])
		s.Equal(false, e.Details["locked"])
	})

	result, err := s.service.RecordFailedAttempt(s.ctx, u, "203.0.113.5", "curl/8.0")
	s.Require().NoError(err)
	s.Equal(1, result.AttemptsCount)
	s.Nil(result.LockedUntil)
}

func (s *StoreFailureSuite) TestLogoutDeleteFails() {
	s.sessions.EXPECT().FindByToken(gomock.Any(), "tok").Return(nil, sentinel.ErrNotFound)
	s.sessions.EXPECT().Delete(gomock.Any(), "tok").Return(errStoreDown)

	err := s.service.Logout(s.ctx, "tok")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *StoreFailureSuite) TestChangePasswordSurvivesRevocationFailure() {
	u := s.user(testPassword)
	s.users.EXPECT().FindByID(gomock.Any(), u.ID).Return(u, nil)
	s.users.EXPECT().Update(gomock.Any(), u).Return(nil)
	s.sessions.EXPECT().DeleteByUser(gomock.Any(), u.ID, "").Return(0, errStoreDown)
	s.auditor.EXPECT().Record(gomock.Any(), gomock.Any())

	err := s.service.ChangePassword(s.ctx, u.ID, testPassword, otherPass)
	s.NoError(err)
	s.True(s.hasher.Compare(u.PasswordHash, otherPass))
}

func (s *StoreFailureSuite) TestChangePasswordUnknownUser() {
	u := s.user(testPassword)
	s.users.EXPECT().FindByID(gomock.Any(), u.ID).Return(nil, sentinel.ErrNotFound)

	err := s.service.ChangePassword(s.ctx, u.ID, testPassword, otherPass)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StoreFailureSuite) TestAuthenticateStoreError() {
	s.sessions.EXPECT().FindByToken(gomock.Any(), "tok").Return(nil, errStoreDown)

	_, err := s.service.Authenticate(s.ctx, "tok")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
