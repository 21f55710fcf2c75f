package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exambook/apiserver/internal/auth"
	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/mail"
	"github.com/exambook/apiserver/internal/store"
	"github.com/exambook/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// ContactRepository stores contact form submissions.
type ContactRepository interface {
	Create(ctx context.Context, contact types.Contact) (types.Contact, error)
}

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// ProfilePatch is a validated partial profile update.
type ProfilePatch struct {
	Name  *string
	Email *string
	Phone *string
}

// ContactInput is a validated contact form submission.
type ContactInput struct {
	Name    string
	Email   string
	Message string
}

// Session is the token pair handed to a client after login or registration.
type Session struct {
	AccessToken  string
	Access       auth.Claims
	RefreshToken string
	Refresh      auth.Claims
}

// UserOptions configures mail links and destinations.
type UserOptions struct {
	FrontendURL  string
	ContactInbox string
}

// UserService encapsulates account, session and contact use-cases.
type UserService struct {
	users    UserRepository
	contacts ContactRepository
	tokens   *auth.Tokens
	revoker  auth.Revoker
	mailer   mail.Mailer
	media    MediaDeleter
	opts     UserOptions
	now      func() time.Time
}

func NewUserService(
	users UserRepository,
	contacts ContactRepository,
	tokens *auth.Tokens,
	revoker auth.Revoker,
	mailer mail.Mailer,
	media MediaDeleter,
	opts UserOptions,
) *UserService {
	return &UserService{
		users:    users,
		contacts: contacts,
		tokens:   tokens,
		revoker:  revoker,
		mailer:   mailer,
		media:    media,
		opts:     opts,
		now:      time.Now,
	}
}

// Register creates an account and opens a session for it.
func (s *UserService) Register(ctx context.Context, in RegisterInput, upload UploadContext) (types.User, Session, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		upload.discard(ctx, s.media, "register failed")
		return types.User{}, Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := types.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:        in.Phone,
		PasswordHash: hash,
	}
	if upload.Image != nil {
		user.ImageURL = upload.Image.URL
		user.ImageMediaID = upload.Image.MediaID
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		upload.discard(ctx, s.media, "register failed")
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, Session{}, ErrEmailTaken
		}
		return types.User{}, Session{}, fmt.Errorf("create user: %w", err)
	}

	session, err := s.openSession(created.ID)
	if err != nil {
		return types.User{}, Session{}, err
	}
	return created, session, nil
}

// Authenticate checks credentials and opens a session. An unknown email
// yields store.ErrNotFound.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, Session{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return types.User{}, Session{}, ErrInvalidCredentials
	}
	session, err := s.openSession(user.ID)
	if err != nil {
		return types.User{}, Session{}, err
	}
	return user, session, nil
}

func (s *UserService) openSession(userID string) (Session, error) {
	access, accessClaims, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return Session{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return Session{AccessToken: access, Access: accessClaims, RefreshToken: refresh, Refresh: refreshClaims}, nil
}

func (s *UserService) Get(ctx context.Context, id string) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile applies patch to user id if the caller is that user.
func (s *UserService) UpdateProfile(ctx context.Context, callerID, id string, patch ProfilePatch, upload UploadContext) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		upload.discard(ctx, s.media, "profile update rejected")
		return types.User{}, err
	}
	if user.ID != callerID {
		upload.discard(ctx, s.media, "profile update rejected")
		return types.User{}, ErrForbidden
	}

	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*patch.Email))
	}
	if patch.Phone != nil {
		user.Phone = *patch.Phone
	}

	if upload.Image != nil {
		deleteMedia(ctx, s.media, user.ImageMediaID, "profile photo replaced")
		user.ImageURL = upload.Image.URL
		user.ImageMediaID = upload.Image.MediaID
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		upload.discard(ctx, s.media, "profile update failed")
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return updated, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new access token.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (string, auth.Claims, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return "", auth.Claims{}, ErrInvalidToken
	}
	if s.isRevoked(ctx, claims.ID) {
		return "", auth.Claims{}, ErrInvalidToken
	}
	token, access, err := s.tokens.IssueAccess(claims.Subject)
	if err != nil {
		return "", auth.Claims{}, fmt.Errorf("issue access token: %w", err)
	}
	return token, access, nil
}

// Logout revokes refreshToken for the rest of its lifetime. Invalid tokens
// and revocation failures are ignored.
func (s *UserService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.Remaining(s.now())); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to revoke refresh token")
	}
}

// RequestPasswordReset mails a reset link to the account for email.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, _, err := s.tokens.IssueReset(user.ID)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	msg, err := mail.PasswordReset(user.Email, mail.ResetLink(s.opts.FrontendURL, token), humanDuration(s.tokens.TTL(auth.KindReset)))
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// VerifyResetToken reports the claims of a usable reset token.
func (s *UserService) VerifyResetToken(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := s.tokens.ParseReset(token)
	if err != nil {
		return auth.Claims{}, ErrInvalidToken
	}
	if s.isRevoked(ctx, claims.ID) {
		return auth.Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ResetPassword sets a new password and burns the reset token.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.VerifyResetToken(ctx, token)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.revoker.Revoke(ctx, claims.ID, claims.Remaining(s.now())); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("failed to mark reset token used")
	}
	return nil
}

// Contact stores the submission, then notifies the inbox. The submission
// is kept even when the notification fails.
func (s *UserService) Contact(ctx context.Context, in ContactInput) (types.Contact, error) {
	contact, err := s.contacts.Create(ctx, types.Contact{
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Message: in.Message,
	})
	if err != nil {
		return types.Contact{}, fmt.Errorf("store contact: %w", err)
	}

	msg, err := mail.ContactNotification(s.opts.ContactInbox, contact.Name, contact.Email, contact.Message)
	if err != nil {
		return contact, err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return contact, fmt.Errorf("send contact notification: %w", err)
	}
	return contact, nil
}

func (s *UserService) isRevoked(ctx context.Context, tokenID string) bool {
	revoked, err := s.revoker.IsRevoked(ctx, tokenID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("revocation lookup failed")
		return false
	}
	return revoked
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 && d >= time.Hour {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
