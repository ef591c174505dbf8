package server

import (
	"net/http"
	"strings"

	"spoolhub/internal/ratelimit"
	"spoolhub/internal/util"
	"spoolhub/pkg/domain"
	"spoolhub/services/api/internal/app"
	"spoolhub/services/api/internal/security"
)

type authHandler func(http.ResponseWriter, *http.Request, string)

// authenticated verifies the access token and passes its subject on.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := headerToken(r, app.HeaderAuthorization)
		if !ok {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "missing_token")
			s.writeError(w, r, missingToken(app.HeaderAuthorization))
			return
		}
		userID, err := s.app.Authenticate(token)
		if err != nil {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "invalid_token")
			s.writeError(w, r, invalidToken(app.HeaderAuthorization))
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput[app.RegisterInput](r)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", "invalid_input")
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.Register(r.Context(), in)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", failureReason(err))
		s.writeError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess)
	s.respond(w, r, res, nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter) {
		s.audit(r, security.EventLogin, security.OutcomeRateLimited)
		return
	}
	in, err := decodeInput[app.LoginInput](r)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", "invalid_input")
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.Login(r.Context(), in)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", failureReason(err))
		s.writeError(w, r, err)
		return
	}
	attrs := []any{}
	if session, ok := res.Value.(app.Session); ok && session.User != nil {
		attrs = append(attrs, "user_id", session.User.ID)
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, attrs...)
	s.respond(w, r, res, nil)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.renewLimiter) {
		s.audit(r, security.EventRenew, security.OutcomeRateLimited)
		return
	}
	token, ok := headerToken(r, app.HeaderRefreshToken)
	if !ok {
		s.audit(r, security.EventRenew, security.OutcomeFail, "reason", "missing_token")
		s.writeError(w, r, missingToken(app.HeaderRefreshToken))
		return
	}
	res, err := s.app.Renew(r.Context(), token)
	if err != nil {
		s.audit(r, security.EventRenew, security.OutcomeFail, "reason", failureReason(err))
		s.writeError(w, r, err)
		return
	}
	s.audit(r, security.EventRenew, security.OutcomeSuccess)
	s.respond(w, r, res, nil)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := headerToken(r, app.HeaderRefreshToken)
	if !ok {
		s.audit(r, security.EventLogout, security.OutcomeFail, "reason", "missing_token")
		s.writeError(w, r, missingToken(app.HeaderRefreshToken))
		return
	}
	res, err := s.app.Logout(r.Context(), token)
	if err != nil {
		s.audit(r, security.EventLogout, security.OutcomeFail, "reason", failureReason(err))
		s.writeError(w, r, err)
		return
	}
	s.audit(r, security.EventLogout, security.OutcomeSuccess)
	s.respond(w, r, res, nil)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.ChangePasswordInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ChangePassword(r.Context(), userID, in)
	if err != nil {
		s.audit(r, security.EventPasswordChange, security.OutcomeFail, "user_id", userID, "reason", failureReason(err))
		s.writeError(w, r, err)
		return
	}
	s.audit(r, security.EventPasswordChange, security.OutcomeSuccess, "user_id", userID)
	s.respond(w, r, res, nil)
}

func (s *Server) handleConfirmPassword(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := decodeInput[app.ConfirmPasswordInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.ConfirmPassword(r.Context(), userID, in)
	s.respond(w, r, res, err)
}

func (s *Server) handleRestorePassword(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput[app.RestorePasswordInput](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.app.RestorePassword(r.Context(), in)
	s.respond(w, r, res, err)
}

// audit logs a security_event line and feeds the alert counters.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logger := util.LoggerFromContext(r.Context())
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeErrorBody(w, errorBody{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests, try again later.",
		Issues:  []string{"ip"},
	})
	return false
}

// headerToken returns the raw "Bearer ..." value of a credential header.
func headerToken(r *http.Request, header string) (string, bool) {
	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" {
		return "", false
	}
	return value, true
}

func missingToken(header string) error {
	return &domain.Error{Kind: domain.KindInvalidInput, Message: "There is no token in header", Issues: []string{header}}
}

func invalidToken(header string) error {
	de := domain.InvalidToken()
	de.Issues = []string{header}
	return de
}

func failureReason(err error) string {
	return string(domain.AsError(err).Kind)
}
