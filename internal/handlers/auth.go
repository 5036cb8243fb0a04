package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/geoclip/geoclip/internal/auth"
	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/repositories"
	"github.com/geoclip/geoclip/internal/validate"
)

const (
	detailEmailTaken         = "Email already registered"
	detailBadCredentials     = "Incorrect email or password"
	detailInvalidCredentials = "Could not validate credentials"
	detailTooManyRequests    = "Too many requests, please try again later"
)

var (
	comparePassword = bcrypt.CompareHashAndPassword

	// absentUserHash stands in for unknown emails so every login pays one bcrypt comparison.
	absentUserHash = sync.OnceValue(func() []byte {
		hash, err := bcrypt.GenerateFromPassword([]byte("geoclip-absent-user"), bcrypt.DefaultCost)
		if err != nil {
			panic("handlers: hash placeholder password: " + err.Error())
		}
		return hash
	})
)

// AuthHandler implements user authentication endpoints.
type AuthHandler struct {
	Users     UserStore
	Tokens    TokenManager
	Validator BodyValidator
	Limiter   RateLimiter
	NowFunc   func() time.Time
}

// Register handles POST /api/register.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if throttled(ctx, w, r, h.Limiter, "register") {
		logger.Warn("register throttled", "ip", clientIP(r))
		return
	}

	var req models.Registration
	if !h.decode(w, r, validate.Register, &req) {
		return
	}

	req.Email = normaliseEmail(req.Email)
	if req.Phone != nil {
		if phone := strings.TrimSpace(*req.Phone); phone != "" {
			req.Phone = &phone
		} else {
			req.Phone = nil
		}
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		respondError(ctx, w, http.StatusBadRequest, detailEmailTaken)
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("register user lookup failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to verify existing accounts")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("register failed to hash password", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  string(hashed),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondError(ctx, w, http.StatusBadRequest, detailEmailTaken)
			return
		}
		logger.Error("register failed to create user", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create account")
		return
	}

	h.issue(ctx, w, user.ID)
}

// Login handles POST /api/login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if throttled(ctx, w, r, h.Limiter, "login") {
		logger.Warn("login throttled", "ip", clientIP(r))
		return
	}

	var req models.Credentials
	if !h.decode(w, r, validate.Login, &req) {
		return
	}

	user, err := h.Users.FindByEmail(ctx, normaliseEmail(req.Email))
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("login user lookup failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to verify credentials")
		return
	}
	hash := []byte(user.Password)
	if err != nil {
		hash = absentUserHash()
	}
	if comparePassword(hash, []byte(req.Password)) != nil || err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(ctx, w, http.StatusUnauthorized, detailBadCredentials)
		return
	}

	h.issue(ctx, w, user.ID)
}

// Me handles GET /api/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := claimsFromContext(ctx)

	user, err := h.Users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			unauthorized(ctx, w)
			return
		}
		logging.FromContext(ctx).Error("load current user failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load user")
		return
	}

	respondJSON(ctx, w, http.StatusOK, user.Profile())
}

// Logout handles POST /api/logout by revoking the presented token.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Tokens.Revoke(ctx, bearerToken(r)); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		logging.FromContext(ctx).Error("revoke session failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to log out")
		return
	}

	respondJSON(ctx, w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// decode validates the body against schema and unmarshals it into dst. It
// writes the error response itself and reports whether the caller may proceed.
func (h AuthHandler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	ctx := r.Context()

	body, err := readBody(w, r, maxJSONBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(ctx, w, status, "invalid request body")
		return false
	}

	if h.Validator != nil {
		if err := h.Validator.Body(schema, body); err != nil {
			respondError(ctx, w, http.StatusUnprocessableEntity, err.Error())
			return false
		}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h AuthHandler) issue(ctx context.Context, w http.ResponseWriter, userID string) {
	token, err := h.Tokens.Issue(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("failed to issue token", "error", err, "user_id", userID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(ctx, w, http.StatusOK, token)
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
