package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/exambook/apiserver/types"
)

// ContactRepository stores contact form submissions.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	contact.ID = NewID()
	contact.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO contacts (id, name, email, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, contact.ID, contact.Name, contact.Email, contact.Message, contact.CreatedAt); err != nil {
		return types.Contact{}, err
	}
	return contact, nil
}
