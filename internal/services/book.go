package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/exambook/apiserver/internal/geo"
	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/metrics"
	"github.com/exambook/apiserver/internal/store"
	"github.com/exambook/apiserver/types"
)

// BookRepository defines persistence operations for book listings.
type BookRepository interface {
	Get(ctx context.Context, id string) (types.Book, error)
	Create(ctx context.Context, book types.Book) (types.Book, error)
	Update(ctx context.Context, book types.Book) (types.Book, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q types.BookQuery) ([]types.Book, int, error)
	Nearby(ctx context.Context, point types.Coordinates, km float64) ([]types.Book, error)
}

// Geocoder resolves coordinates to a display address. It never fails; a
// placeholder string is returned instead.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) string
}

// BookInput is a validated listing submission.
type BookInput struct {
	Title       string
	Author      string
	Description string
	ExamType    string
	Price       float64
	Condition   string
	Location    *types.Coordinates
}

// BookPatch is a validated partial update. Nil fields are left unchanged.
type BookPatch struct {
	Title       *string
	Author      *string
	Description *string
	ExamType    *string
	Price       *float64
	Condition   *string
	Location    *types.Coordinates
}

// BookService encapsulates listing use-cases.
type BookService struct {
	repo     BookRepository
	media    MediaDeleter
	geocoder Geocoder
}

func NewBookService(repo BookRepository, media MediaDeleter, geocoder Geocoder) *BookService {
	return &BookService{repo: repo, media: media, geocoder: geocoder}
}

// Search returns one page of listings. q.Limit must be positive.
func (s *BookService) Search(ctx context.Context, q types.BookQuery) (types.BookPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}

	mode := "filter"
	if q.Near != nil {
		mode = "proximity"
	}
	metrics.RecordBookSearch(mode)

	books, total, err := s.repo.Search(ctx, q)
	if err != nil {
		return types.BookPage{}, fmt.Errorf("search books: %w", err)
	}
	return types.BookPage{
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
		Page:       q.Page,
		Limit:      q.Limit,
		Books:      books,
	}, nil
}

func (s *BookService) Get(ctx context.Context, id string) (types.Book, error) {
	return s.repo.Get(ctx, id)
}

// Nearby lists every located book within km of point, nearest first.
func (s *BookService) Nearby(ctx context.Context, point types.Coordinates, km float64) ([]types.Book, error) {
	metrics.RecordBookSearch("nearby")
	return s.repo.Nearby(ctx, point, km)
}

// Create stores a listing for sellerID. The uploaded image is required.
func (s *BookService) Create(ctx context.Context, sellerID string, in BookInput, upload UploadContext) (types.Book, error) {
	if upload.Image == nil {
		return types.Book{}, ErrImageRequired
	}

	book := types.Book{
		Title:        in.Title,
		Author:       in.Author,
		Description:  in.Description,
		ExamType:     in.ExamType,
		Price:        in.Price,
		Condition:    in.Condition,
		ImageURL:     upload.Image.URL,
		ImageMediaID: upload.Image.MediaID,
		SellerID:     sellerID,
	}
	if book.Condition == "" {
		book.Condition = types.ConditionUsed
	}
	if in.Location != nil {
		book.Location = s.locate(ctx, *in.Location)
	}

	created, err := s.repo.Create(ctx, book)
	if err != nil {
		upload.discard(ctx, s.media, "create failed")
		return types.Book{}, fmt.Errorf("create book: %w", err)
	}
	return s.reload(ctx, created), nil
}

// Update applies patch to the book if callerID owns it. A fresh upload
// replaces the current image; the old one is deleted best-effort.
func (s *BookService) Update(ctx context.Context, callerID, id string, patch BookPatch, upload UploadContext) (types.Book, error) {
	book, err := s.owned(ctx, callerID, id)
	if err != nil {
		upload.discard(ctx, s.media, "update rejected")
		return types.Book{}, err
	}

	if patch.Title != nil {
		book.Title = *patch.Title
	}
	if patch.Author != nil {
		book.Author = *patch.Author
	}
	if patch.Description != nil {
		book.Description = *patch.Description
	}
	if patch.ExamType != nil {
		book.ExamType = *patch.ExamType
	}
	if patch.Price != nil {
		book.Price = *patch.Price
	}
	if patch.Condition != nil {
		book.Condition = *patch.Condition
	}
	if patch.Location != nil && !sameCoordinates(book.Location, *patch.Location) {
		book.Location = s.locate(ctx, *patch.Location)
	}
	if upload.Image != nil {
		deleteMedia(ctx, s.media, book.ImageMediaID, "image replaced")
		book.ImageURL = upload.Image.URL
		book.ImageMediaID = upload.Image.MediaID
	}

	updated, err := s.repo.Update(ctx, book)
	if err != nil {
		upload.discard(ctx, s.media, "update failed")
		return types.Book{}, fmt.Errorf("update book %s: %w", id, err)
	}
	return s.reload(ctx, updated), nil
}

// Delete removes the book if callerID owns it, deleting its image first.
func (s *BookService) Delete(ctx context.Context, callerID, id string) error {
	book, err := s.owned(ctx, callerID, id)
	if err != nil {
		return err
	}
	deleteMedia(ctx, s.media, book.ImageMediaID, "book deleted")
	return s.repo.Delete(ctx, id)
}

func (s *BookService) owned(ctx context.Context, callerID, id string) (types.Book, error) {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Book{}, err
	}
	if book.SellerID != callerID {
		return types.Book{}, ErrForbidden
	}
	return book, nil
}

func (s *BookService) locate(ctx context.Context, c types.Coordinates) *types.Location {
	address := ""
	if s.geocoder != nil {
		address = s.geocoder.Reverse(ctx, c.Latitude, c.Longitude)
	}
	return geo.NewLocation(c.Latitude, c.Longitude, address)
}

// reload re-reads book so the response carries the seller projection.
func (s *BookService) reload(ctx context.Context, book types.Book) types.Book {
	fresh, err := s.repo.Get(ctx, book.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Str("book_id", book.ID).Msg("failed to reload book")
		}
		return book
	}
	return fresh
}

func sameCoordinates(loc *types.Location, c types.Coordinates) bool {
	return loc != nil && loc.Latitude == c.Latitude && loc.Longitude == c.Longitude
}
