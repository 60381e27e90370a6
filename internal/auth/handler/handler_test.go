package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/password"
	authservice "cmsguard/internal/auth/service"
	sessionstore "cmsguard/internal/auth/store/session"
	userstore "cmsguard/internal/auth/store/user"
	"cmsguard/internal/lockout"
	ratelimitmw "cmsguard/internal/ratelimit/middleware"
	ratelimitmodels "cmsguard/internal/ratelimit/models"
	ratelimitsvc "cmsguard/internal/ratelimit/service"
	ratelimitstore "cmsguard/internal/ratelimit/store/ratelimit"
	"cmsguard/pkg/email"
	"cmsguard/pkg/platform/circuit"
	auth "cmsguard/pkg/platform/middleware/auth"
	"cmsguard/pkg/platform/middleware/csrf"
	"cmsguard/pkg/requestcontext"
)

const (
	username  = "editor"
	goodPass  = "Sup3r-Secret-Pass!"
	clientIP  = "203.0.113.5"
	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

type captureMailer struct {
	sent []email.Message
}

func (m *captureMailer) Send(_ context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

// HandlerSuite runs the handler against the real auth and rate limit services
// over in-memory stores.
type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	logger  *slog.Logger
	users   *userstore.InMemoryUserStore
	auth    *authservice.Service
	limiter *ratelimitsvc.Service
	mailer  *captureMailer
	user    *models.User
	t0      time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.logger = logger
	s.t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.mailer = &captureMailer{}

	s.users = userstore.New()
	authSvc, err := authservice.New(s.users, sessionstore.New(), password.NewHasher(bcrypt.MinCost),
		authservice.WithLogger(logger),
		authservice.WithMailer(s.mailer),
	)
	s.Require().NoError(err)
	s.auth = authSvc

	limiter, err := ratelimitsvc.New(ratelimitstore.NewInMemory(), ratelimitsvc.WithLogger(logger))
	s.Require().NoError(err)
	s.limiter = limiter

	user, err := authSvc.CreateUser(requestcontext.WithTime(context.Background(), s.t0),
		username, "jane.doe@example.com", goodPass, models.RoleEditor)
	s.Require().NoError(err)
	s.user = user

	s.router = s.routes(limiter)
}

// routes mounts the handler the way the server does: one rate limit
// middleware guards the protected group and backs the handler's own checks.
func (s *HandlerSuite) routes(primary ratelimitmw.Limiter, opts ...ratelimitmw.Option) http.Handler {
	mw := ratelimitmw.New(primary, s.logger, opts...)
	h := New(s.auth, mw, s.logger)

	r := chi.NewRouter()
	h.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(mw.Limit(ratelimitmodels.ActionSession))
		r.Use(mw.RecordFailure(ratelimitmodels.ActionSession))
		r.Use(auth.RequireAuth(s.auth, s.logger))
		r.Use(csrf.Middleware(csrf.NewGuard(), nil, s.logger))
		h.RegisterProtected(r)
	})
	return r
}

type unreachableLimiter struct{}

func (unreachableLimiter) CheckAllowed(context.Context, string) error {
	return errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
}

func (unreachableLimiter) GetStatus(context.Context, string) (ratelimitmodels.Status, error) {
	return ratelimitmodels.Status{}, errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
}

func (unreachableLimiter) RecordAttempt(context.Context, string) (*ratelimitmodels.RateLimit, error) {
	return nil, errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
}

type call struct {
	method string
	path   string
	body   any
	offset time.Duration
	ip     string
	token  string
	csrf   string
	router http.Handler
}

func (s *HandlerSuite) do(c call) *httptest.ResponseRecorder {
	var body io.Reader = http.NoBody
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			body = strings.NewReader(raw)
		} else {
			buf, err := json.Marshal(c.body)
			s.Require().NoError(err)
			body = bytes.NewReader(buf)
		}
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set(csrf.HeaderName, c.csrf)
	}
	ip := c.ip
	if ip == "" {
		ip = clientIP
	}
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, userAgent)
	ctx = requestcontext.WithTime(ctx, s.t0.Add(c.offset))

	rr := httptest.NewRecorder()
	router := s.router
	if c.router != nil {
		router = c.router
	}
	router.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func (s *HandlerSuite) login(pw string, offset time.Duration, ip string) *httptest.ResponseRecorder {
	return s.do(call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   models.LoginRequest{Username: username, Password: pw},
		offset: offset,
		ip:     ip,
	})
}

func (s *HandlerSuite) loggedIn() models.LoginResponse {
	rr := s.login(goodPass, 0, "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var resp models.LoginResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeMap(rr *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return out
}

func (s *HandlerSuite) TestLoginSuccess() {
	rr := s.login(goodPass, 0, "")
	s.Require().Equal(http.StatusOK, rr.Code)

	var resp models.LoginResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	s.Len(resp.Token, 64)
	s.Len(resp.CSRFToken, 64)
	s.Equal(username, resp.User.Username)
	s.Equal(models.RoleEditor, resp.User.Role)

	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}
	s.Require().Contains(cookies, auth.SessionCookieName)
	s.True(cookies[auth.SessionCookieName].HttpOnly)
	s.Equal(resp.Token, cookies[auth.SessionCookieName].Value)
	s.Require().Contains(cookies, csrf.CookieName)
	s.Equal(resp.CSRFToken, cookies[csrf.CookieName].Value)
}

func (s *HandlerSuite) TestLoginInvalidCredentialsCountsAttempt() {
	rr := s.login("wrong-password", 0, "")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Equal("invalid_credentials", decodeMap(rr)["error"])

	status, err := s.limiter.GetStatus(requestcontext.WithTime(context.Background(), s.t0),
		ratelimitmodels.IPIdentifier(clientIP, ratelimitmodels.ActionLogin))
	s.Require().NoError(err)
	s.Equal(1, status.Attempts)
}

// TestBruteForceFromOneIP: five failures lock the client; the sixth request is
// rejected before the password is checked, even when it is correct.
func (s *HandlerSuite) TestBruteForceFromOneIP() {
	for i := range 5 {
		rr := s.login("wrong-password", time.Duration(i)*time.Minute, "")
		s.Require().Equal(http.StatusUnauthorized, rr.Code, "attempt %d", i+1)
	}

	rr := s.login(goodPass, 5*time.Minute, "")
	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.Equal("840", rr.Header().Get("Retry-After"))
	body := decodeMap(rr)
	s.Equal("rate_limit_exceeded", body["error"])
	s.Equal(15.0, body["retry_after_minutes"])

	rr = s.login(goodPass, 5*time.Minute, "198.51.100.9")
	s.Equal(http.StatusLocked, rr.Code, "the account itself is locked too")
	s.Equal("account_locked", decodeMap(rr)["error"])
}

func (s *HandlerSuite) TestAccountLockAcrossIPs() {
	for i := range 5 {
		rr := s.login("wrong-password", time.Duration(i)*time.Minute, fmt.Sprintf("192.0.2.%d", i+1))
		s.Require().Equal(http.StatusUnauthorized, rr.Code)
	}

	rr := s.login(goodPass, 5*time.Minute, "198.51.100.20")
	s.Equal(http.StatusLocked, rr.Code)
	s.NotEmpty(decodeMap(rr)["locked_until"])

	rr = s.login(goodPass, 20*time.Minute, "198.51.100.20")
	s.Equal(http.StatusOK, rr.Code)
}

func (s *HandlerSuite) TestSuccessfulLoginResetsClientLimit() {
	s.login("wrong-password", 0, "")
	s.login("wrong-password", time.Minute, "")
	s.Require().Equal(http.StatusOK, s.login(goodPass, 2*time.Minute, "").Code)

	status, err := s.limiter.GetStatus(requestcontext.WithTime(context.Background(), s.t0),
		ratelimitmodels.IPIdentifier(clientIP, ratelimitmodels.ActionLogin))
	s.Require().NoError(err)
	s.Equal(0, status.Attempts)
}

func (s *HandlerSuite) TestLoginInactiveAccount() {
	user, err := s.users.FindByID(context.Background(), s.user.ID)
	s.Require().NoError(err)
	user.IsActive = false
	s.Require().NoError(s.users.Update(context.Background(), user))

	rr := s.login(goodPass, 0, "")
	s.Equal(http.StatusForbidden, rr.Code)
	s.Equal("inactive_account", decodeMap(rr)["error"])
}

func (s *HandlerSuite) TestLoginBadRequests() {
	s.Run("malformed json", func() {
		rr := s.do(call{method: http.MethodPost, path: "/auth/login", body: "{not json"})
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("missing username", func() {
		rr := s.do(call{method: http.MethodPost, path: "/auth/login", body: models.LoginRequest{Password: "x"}})
		s.Equal(http.StatusUnprocessableEntity, rr.Code)
	})
}

func (s *HandlerSuite) TestProtectedRoutesNeedSession() {
	rr := s.do(call{method: http.MethodGet, path: "/auth/session"})
	s.Equal(http.StatusUnauthorized, rr.Code)
}

func (s *HandlerSuite) TestSessionAndLogout() {
	session := s.loggedIn()

	rr := s.do(call{method: http.MethodGet, path: "/auth/session", token: session.Token, offset: time.Minute})
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal(s.user.ID.String(), decodeMap(rr)["user_id"])

	s.Run("logout without csrf token is refused", func() {
		rr := s.do(call{method: http.MethodPost, path: "/auth/logout", token: session.Token})
		s.Equal(http.StatusForbidden, rr.Code)
	})

	rr = s.do(call{method: http.MethodPost, path: "/auth/logout", token: session.Token, csrf: session.CSRFToken})
	s.Equal(http.StatusNoContent, rr.Code)

	rr = s.do(call{method: http.MethodGet, path: "/auth/session", token: session.Token})
	s.Equal(http.StatusUnauthorized, rr.Code)
}

func (s *HandlerSuite) TestChangePassword() {
	session := s.loggedIn()
	change := func(current, next string) *httptest.ResponseRecorder {
		return s.do(call{
			method: http.MethodPost,
			path:   "/auth/password",
			body:   models.ChangePasswordRequest{CurrentPassword: current, NewPassword: next},
			token:  session.Token,
			csrf:   session.CSRFToken,
			offset: time.Minute,
		})
	}

	s.Run("policy violation lists every failed rule", func() {
		rr := change(goodPass, "short")
		s.Equal(http.StatusUnprocessableEntity, rr.Code)
		body := decodeMap(rr)
		s.Equal("password_policy_violation", body["error"])
		s.NotEmpty(body["violations"])
	})

	s.Run("wrong current password", func() {
		rr := change("wrong-password", "An0ther-Str0ng-Pass?")
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("success", func() {
		rr := change(goodPass, "An0ther-Str0ng-Pass?")
		s.Equal(http.StatusNoContent, rr.Code)
		s.Equal(http.StatusOK, s.login("An0ther-Str0ng-Pass?", 2*time.Minute, "198.51.100.30").Code)
	})
}

func (s *HandlerSuite) TestPasswordStrength() {
	rr := s.do(call{
		method: http.MethodPost,
		path:   "/auth/password/strength",
		body:   models.PasswordStrengthRequest{Password: "abc"},
	})
	s.Require().Equal(http.StatusOK, rr.Code)

	var resp models.PasswordStrengthResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	s.False(resp.Valid)
	s.False(resp.Checks.Length)
	s.True(resp.Checks.Lowercase)
	s.Equal(1, resp.Score)
}

func (s *HandlerSuite) TestEmailVerification() {
	session := s.loggedIn()
	post := func(path string, body any) *httptest.ResponseRecorder {
		return s.do(call{
			method: http.MethodPost,
			path:   path,
			body:   body,
			token:  session.Token,
			csrf:   session.CSRFToken,
			offset: time.Minute,
		})
	}

	rr := post("/auth/email/verification", nil)
	s.Require().Equal(http.StatusAccepted, rr.Code)
	s.Equal(24.0, decodeMap(rr)["remaining_hours"])
	s.Require().Len(s.mailer.sent, 1)

	lines := strings.Split(s.mailer.sent[0].Body, "\n")
	var token string
	for _, line := range lines {
		if len(line) == 64 {
			token = line
		}
	}
	s.Require().NotEmpty(token)

	rr = post("/auth/email/verify", models.VerifyEmailRequest{Token: strings.Repeat("0", 64)})
	s.Equal(http.StatusBadRequest, rr.Code)
	s.Equal("invalid_token", decodeMap(rr)["error"])

	rr = post("/auth/email/verify", models.VerifyEmailRequest{Token: token})
	s.Equal(http.StatusNoContent, rr.Code)

	rr = post("/auth/email/verify", models.VerifyEmailRequest{Token: token})
	s.Equal(http.StatusConflict, rr.Code)
	s.Equal("token_already_used", decodeMap(rr)["error"])
}

func (s *HandlerSuite) TestVerificationEmailsAreThrottled() {
	session := s.loggedIn()
	for i := range 5 {
		rr := s.do(call{
			method: http.MethodPost,
			path:   "/auth/email/verification",
			token:  session.Token,
			csrf:   session.CSRFToken,
			offset: time.Duration(i) * time.Minute,
		})
		s.Require().Equal(http.StatusAccepted, rr.Code, "email %d", i+1)
	}

	rr := s.do(call{
		method: http.MethodPost,
		path:   "/auth/email/verification",
		token:  session.Token,
		csrf:   session.CSRFToken,
		offset: 5 * time.Minute,
	})
	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.Len(s.mailer.sent, 5)
}

func (s *HandlerSuite) TestLoginFallsBackWhenLimiterStoreIsDown() {
	router := s.routes(unreachableLimiter{},
		ratelimitmw.WithFallback(ratelimitmw.NewFallbackLimiter(lockout.DefaultPolicy(), s.logger)),
		ratelimitmw.WithBreaker(circuit.New("test", circuit.WithFailureThreshold(1))),
	)
	login := func(pw string, offset time.Duration) *httptest.ResponseRecorder {
		return s.do(call{
			method: http.MethodPost,
			path:   "/auth/login",
			body:   models.LoginRequest{Username: username, Password: pw},
			offset: offset,
			router: router,
		})
	}

	for i := range 5 {
		s.Require().Equal(http.StatusUnauthorized, login("wrong-password", time.Duration(i)*time.Second).Code, "attempt %d", i+1)
	}

	rr := login(goodPass, 10*time.Second)
	s.Equal(http.StatusTooManyRequests, rr.Code, "in-memory fallback still enforces the client limit")
	s.Equal("rate_limit_exceeded", decodeMap(rr)["error"])
}

func (s *HandlerSuite) TestSuccessfulLoginClearsFallbackCount() {
	router := s.routes(unreachableLimiter{},
		ratelimitmw.WithFallback(ratelimitmw.NewFallbackLimiter(lockout.DefaultPolicy(), s.logger)),
		ratelimitmw.WithBreaker(circuit.New("test", circuit.WithFailureThreshold(1))),
	)
	login := func(pw string, offset time.Duration) int {
		return s.do(call{
			method: http.MethodPost,
			path:   "/auth/login",
			body:   models.LoginRequest{Username: username, Password: pw},
			offset: offset,
			router: router,
		}).Code
	}

	for i := range 4 {
		s.Require().Equal(http.StatusUnauthorized, login("wrong-password", time.Duration(i)*time.Second))
	}
	s.Require().Equal(http.StatusOK, login(goodPass, 5*time.Second))

	for i := range 4 {
		s.Equal(http.StatusUnauthorized, login("wrong-password", time.Minute+time.Duration(i)*time.Second),
			"attempt %d after reset", i+1)
	}
}

func (s *HandlerSuite) TestForgedSessionTokensLockClient() {
	session := s.loggedIn()

	for i := range 5 {
		rr := s.do(call{method: http.MethodGet, path: "/auth/session", token: fmt.Sprintf("forged-%d", i), offset: time.Minute})
		s.Require().Equal(http.StatusUnauthorized, rr.Code)
	}

	rr := s.do(call{method: http.MethodGet, path: "/auth/session", token: session.Token, offset: 2 * time.Minute})
	s.Equal(http.StatusTooManyRequests, rr.Code)

	rr = s.do(call{method: http.MethodGet, path: "/auth/session", token: session.Token, offset: 2 * time.Minute, ip: "198.51.100.40"})
	s.Equal(http.StatusOK, rr.Code, "other clients are unaffected")
}

func (s *HandlerSuite) TestVerifyTokenGuessingIsThrottled() {
	session := s.loggedIn()
	verify := func(token string, offset time.Duration) *httptest.ResponseRecorder {
		return s.do(call{
			method: http.MethodPost,
			path:   "/auth/email/verify",
			body:   models.VerifyEmailRequest{Token: token},
			token:  session.Token,
			csrf:   session.CSRFToken,
			offset: offset,
		})
	}

	token, err := s.auth.IssueEmailVerification(requestcontext.WithTime(context.Background(), s.t0), s.user.ID)
	s.Require().NoError(err)

	for i := range 5 {
		rr := verify(strings.Repeat(fmt.Sprint(i), 64), time.Duration(i)*time.Minute)
		s.Require().Equal(http.StatusBadRequest, rr.Code, "guess %d", i+1)
	}

	rr := verify(token.Token, 6*time.Minute)
	s.Equal(http.StatusTooManyRequests, rr.Code)

	status, err := s.limiter.GetStatus(requestcontext.WithTime(context.Background(), s.t0.Add(6*time.Minute)),
		ratelimitmodels.UserIdentifier(s.user.ID, ratelimitmodels.ActionVerifyEmail))
	s.Require().NoError(err)
	s.True(status.IsLocked)

	rr = verify(token.Token, 30*time.Minute)
	s.Equal(http.StatusNoContent, rr.Code)
}

func (s *HandlerSuite) TestOversizedBodyIsRejected() {
	body := `{"username":"` + strings.Repeat("a", maxBodyBytes) + `","password":"x"}`
	rr := s.do(call{method: http.MethodPost, path: "/auth/login", body: body})
	s.Equal(http.StatusRequestEntityTooLarge, rr.Code)

	status, err := s.limiter.GetStatus(requestcontext.WithTime(context.Background(), s.t0),
		ratelimitmodels.IPIdentifier(clientIP, ratelimitmodels.ActionLogin))
	s.Require().NoError(err)
	s.Equal(0, status.Attempts)
}
