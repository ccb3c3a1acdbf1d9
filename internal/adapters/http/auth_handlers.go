package http

import (
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/auth"
	"github.com/dkeye/busboard/internal/config"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/storage"
)

const (
	keyUser     = "user"
	keyLogin    = "login"
	keyIssuedAt = "issued_at"
	keyIdentity = "identity"
)

type handlers struct {
	hub   *app.Hub
	auth  Authenticator
	media *storage.Client
	audio config.AudioConfig
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// sessionCredentials reads the gate credentials from the session cookie.
// An anonymous request yields an empty username.
func sessionCredentials(c *gin.Context) app.Credentials {
	s := sessions.Default(c)
	user, _ := s.Get(keyUser).(string)
	login, _ := s.Get(keyLogin).(string)
	issued, _ := s.Get(keyIssuedAt).(int64)
	return app.Credentials{Username: user, LoginID: login, IssuedAt: time.Unix(0, issued)}
}

// requireSession runs the gate on the session cookie. Pages redirect to
// /login, API calls get 401.
func (h *handlers) requireSession(redirect bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		dec := h.hub.Gate.Authorize(sessionCredentials(c))
		if !dec.Accepted {
			if redirect {
				c.Redirect(http.StatusFound, "/login")
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(keyIdentity, dec.Identity)
		c.Next()
	}
}

// login verifies the request and stores the credentials in the session.
// It returns the HTTP status and body to report.
func (h *handlers) login(c *gin.Context, req loginRequest) (int, gin.H) {
	user, err := h.auth.Verify(req.Username, req.Password)
	if err != nil {
		var lock *auth.LockoutError
		var attempt *auth.AttemptError
		switch {
		case errors.As(err, &lock):
			secs := int(math.Ceil(lock.Remaining.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			return http.StatusTooManyRequests, gin.H{"error": "locked_out", "retry_after_seconds": secs}
		case errors.As(err, &attempt):
			return http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "attempts_left": attempt.Left}
		default:
			return http.StatusUnauthorized, gin.H{"error": "invalid_credentials"}
		}
	}

	s := sessions.Default(c)
	s.Set(keyUser, user.Username)
	s.Set(keyLogin, uuid.NewString())
	s.Set(keyIssuedAt, h.hub.Gate.Now().UnixNano())
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		return http.StatusInternalServerError, gin.H{"error": "session"}
	}
	log.Info().Str("module", "adapters.http").Str("user", user.Username).Msg("logged in")
	return http.StatusOK, gin.H{"username": user.Username, "name": user.Name}
}

func (h *handlers) loginJSON(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}
	status, body := h.login(c, req)
	c.JSON(status, body)
}

func (h *handlers) loginForm(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Redirect(http.StatusSeeOther, "/login?error=missing")
		return
	}
	status, body := h.login(c, req)
	if status != http.StatusOK {
		q := url.Values{"error": {body["error"].(string)}}
		if secs, ok := body["retry_after_seconds"].(int); ok {
			q.Set("retry_after", strconv.Itoa(secs))
		}
		c.Redirect(http.StatusSeeOther, "/login?"+q.Encode())
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// logout revokes this browser's login, which also drops the sockets it
// opened, and clears the cookie. With ?all=1 every login of the user is
// revoked instead.
func (h *handlers) logout(c *gin.Context) {
	s := sessions.Default(c)
	creds := sessionCredentials(c)
	switch {
	case creds.Username != "" && c.Query("all") == "1":
		h.hub.Gate.RevokeUser(creds.Username)
		log.Info().Str("module", "adapters.http").Str("user", creds.Username).Msg("logged out everywhere")
	case creds.LoginID != "":
		h.hub.Gate.Revoke(creds.LoginID)
		log.Info().Str("module", "adapters.http").Str("user", creds.Username).Msg("logged out")
	}
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("clear session")
	}
}

func (h *handlers) logoutJSON(c *gin.Context) {
	h.logout(c)
	c.Status(http.StatusNoContent)
}

func (h *handlers) logoutPage(c *gin.Context) {
	h.logout(c)
	c.Redirect(http.StatusSeeOther, "/login")
}

func (h *handlers) me(c *gin.Context) {
	id := c.MustGet(keyIdentity).(*domain.Member)
	c.JSON(http.StatusOK, gin.H{
		"username": id.User.Username,
		"name":     id.User.Name,
		"sockets":  len(h.hub.Registry.SessionsOfLogin(id.LoginID)),
	})
}
