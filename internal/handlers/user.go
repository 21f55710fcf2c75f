package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exambook/apiserver/internal/media"
	"github.com/exambook/apiserver/internal/services"
	"github.com/exambook/apiserver/internal/store"
	"github.com/exambook/apiserver/internal/validation"
	"github.com/exambook/apiserver/types"
)

// UserHandler provides HTTP handlers for accounts, sessions and the contact form.
type UserHandler struct {
	users   *services.UserService
	media   Uploader
	cookies CookieOptions
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(users *services.UserService, uploader Uploader, cookies CookieOptions) *UserHandler {
	return &UserHandler{users: users, media: uploader, cookies: cookies}
}

// UserRouter registers user routes on the given router. limit throttles
// the unauthenticated write endpoints and may be nil.
func UserRouter(r chi.Router, handler *UserHandler, authn *Authenticator, limit func(http.Handler) http.Handler) {
	throttled := r
	if limit != nil {
		throttled = r.With(limit)
	}

	throttled.Post("/register", handler.Register)
	throttled.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Post("/refreshToken", handler.RefreshToken)
	r.With(authn.RequireAuth).Get("/profile", handler.Profile)
	r.With(authn.RequireAuth).Put("/profile/{userID}", handler.UpdateProfile)
	throttled.Post("/password/forgot", handler.ForgotPassword)
	r.Get("/password/reset/{token}", handler.VerifyResetToken)
	r.Post("/password/reset/{token}", handler.ResetPassword)
	throttled.Post("/contact", handler.Contact)
}

type userResponse struct {
	Message string            `json:"message,omitempty"`
	Token   string            `json:"token,omitempty"`
	User    types.UserSummary `json:"user"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, formFieldPhoto)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	input, errs := parseRegister(body)
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	upload, ok := uploadImage(w, r, h.media, media.FolderUsers, formFieldPhoto, body.file)
	if !ok {
		return
	}

	user, session, err := h.users.Register(r.Context(), input, upload)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		writeServerError(w, r, err, "Internal server error")
		return
	}

	h.setSession(w, session)
	writeJSON(w, http.StatusOK, userResponse{Message: "User registered successfully", User: user.Summary()})
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, "")
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	input, errs := parseLogin(body)
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	user, session, err := h.users.Authenticate(r.Context(), input.Email, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "User does not exist")
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Incorrect password")
		default:
			writeServerError(w, r, err, "Internal server error")
		}
		return
	}

	h.setSession(w, session)
	writeJSON(w, http.StatusOK, userResponse{Message: "Login successful", Token: session.AccessToken, User: user.Summary()})
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		h.users.Logout(r.Context(), cookie.Value)
	}
	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "No refresh token provided")
		return
	}

	token, claims, err := h.users.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		writeServerError(w, r, err, "Internal server error")
		return
	}

	h.cookies.setAccess(w, token, claims)
	writeJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{Token: token})
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeServerError(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user.Summary()})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	callerID, _ := userIDFromContext(r.Context())
	targetID := chi.URLParam(r, "userID")
	if !validation.IsObjectID(targetID) {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	body, err := readBody(w, r, formFieldPhoto)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	patch, errs := parseProfile(body)
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	upload, ok := uploadImage(w, r, h.media, media.FolderUsers, formFieldPhoto, body.file)
	if !ok {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), callerID, targetID, patch, upload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "You are not allowed to update this profile")
		case errors.Is(err, services.ErrEmailTaken):
			writeError(w, http.StatusConflict, "Email already registered")
		default:
			writeServerError(w, r, err, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "Profile updated successfully", User: user.Summary()})
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, "")
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	form := forgotForm{Email: body.get("email")}
	if errs := validation.Struct(form); errs != nil {
		writeValidationError(w, errs)
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), form.Email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User does not exist")
			return
		}
		writeServerError(w, r, err, "Failed to send reset email")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset link sent"})
}

type resetTokenResponse struct {
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h *UserHandler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	claims, err := h.users.VerifyResetToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, resetTokenResponse{Message: "Invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, resetTokenResponse{
		Valid:     true,
		Message:   "Valid token",
		UserID:    claims.Subject,
		ExpiresAt: &claims.ExpiresAt,
	})
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, "")
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	form := resetForm{NewPassword: body.fields["newPassword"]}
	if errs := validation.Struct(form); errs != nil {
		writeValidationError(w, errs)
		return
	}

	if err := h.users.ResetPassword(r.Context(), chi.URLParam(r, "token"), form.NewPassword); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidToken):
			writeError(w, http.StatusBadRequest, "Invalid or expired token")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeServerError(w, r, err, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

func (h *UserHandler) Contact(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, "")
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	input, errs := parseContact(body)
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	contact, err := h.users.Contact(r.Context(), input)
	if err != nil {
		writeServerError(w, r, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message string        `json:"message"`
		Contact types.Contact `json:"contact"`
	}{Message: "Message sent successfully", Contact: contact})
}

func (h *UserHandler) setSession(w http.ResponseWriter, session services.Session) {
	h.cookies.setAccess(w, session.AccessToken, session.Access)
	h.cookies.setRefresh(w, session.RefreshToken, session.Refresh)
}
