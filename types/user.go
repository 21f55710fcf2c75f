package types

import "time"

// User represents a registered buyer or seller.
// It contains identity, contact details, and audit metadata.
type User struct {
	// ID is the 24-character hex identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, stored lowercase.
	// Uniqueness is enforced case-insensitively by the store.
	Email string `json:"email" db:"email"`

	// Phone is a ten digit contact number shown to buyers.
	Phone string `json:"phone" db:"phone"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ImageURL is the public URL of the profile photo, if any.
	ImageURL string `json:"imageUrl,omitempty" db:"image_url"`

	// ImageMediaID is the media host's identifier for the profile photo.
	// It is used to replace or delete the stored asset.
	ImageMediaID string `json:"-" db:"image_media_id"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// UserSummary is the public projection of a user returned by the API.
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Summary returns the public projection of the user.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		ImageURL: u.ImageURL,
	}
}
