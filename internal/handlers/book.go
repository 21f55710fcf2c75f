package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/exambook/apiserver/internal/geo"
	"github.com/exambook/apiserver/internal/media"
	"github.com/exambook/apiserver/internal/services"
	"github.com/exambook/apiserver/internal/store"
	"github.com/exambook/apiserver/internal/validation"
	"github.com/exambook/apiserver/types"
)

const defaultNearbyKm = 10.0

// BookHandler provides HTTP handlers for book listings.
type BookHandler struct {
	books *services.BookService
	media Uploader
}

// NewBookHandler constructs a handler with the provided service.
func NewBookHandler(books *services.BookService, uploader Uploader) *BookHandler {
	return &BookHandler{books: books, media: uploader}
}

// BookRouter registers book routes on the given router.
func BookRouter(r chi.Router, handler *BookHandler, authn *Authenticator) {
	r.With(authn.RequireAuth).Post("/book", handler.CreateBook)
	r.Get("/books", handler.ListBooks)
	r.With(authn.RequireAuth).Get("/myBooks", handler.MyBooks)
	r.Get("/nearby", handler.Nearby)
	r.Route("/books/{bookID}", func(r chi.Router) {
		r.With(authn.OptionalAuth).Get("/", handler.GetBook)
		r.With(authn.RequireAuth).Put("/", handler.UpdateBook)
		r.With(authn.RequireAuth).Delete("/", handler.DeleteBook)
	})
}

type bookResponse struct {
	Message string     `json:"message,omitempty"`
	Book    types.Book `json:"book"`
}

func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := userIDFromContext(r.Context())

	body, err := readBody(w, r, formFieldImage)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	input, errs := parseBookInput(body)
	if body.file == nil {
		if errs == nil {
			errs = validation.FieldErrors{}
		}
		errs.Add(formFieldImage, "Book image is required")
	}
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	upload, ok := uploadImage(w, r, h.media, media.FolderBooks, formFieldImage, body.file)
	if !ok {
		return
	}

	book, err := h.books.Create(r.Context(), sellerID, input, upload)
	if err != nil {
		if errors.Is(err, services.ErrImageRequired) {
			writeValidationError(w, validation.FieldErrors{formFieldImage: {"Book image is required"}})
			return
		}
		writeServerError(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse{Message: "Book created successfully", Book: book})
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, parseBookQuery(r))
}

func (h *BookHandler) MyBooks(w http.ResponseWriter, r *http.Request) {
	q := parseBookQuery(r)
	q.SellerID, _ = userIDFromContext(r.Context())
	h.writePage(w, r, q)
}

func (h *BookHandler) writePage(w http.ResponseWriter, r *http.Request, q types.BookQuery) {
	page, err := h.books.Search(r.Context(), q)
	if err != nil {
		writeServerError(w, r, err, "Failed to fetch books")
		return
	}
	if page.Books == nil {
		page.Books = []types.Book{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := parseBookID(w, r)
	if !ok {
		return
	}

	book, err := h.books.Get(r.Context(), bookID)
	if err != nil {
		h.writeBookError(w, r, err)
		return
	}

	callerID, authenticated := userIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Book    types.Book `json:"book"`
		IsOwner bool       `json:"isOwner"`
	}{Book: book, IsOwner: authenticated && callerID == book.SellerID})
}

func (h *BookHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lng := optionalFloat(q.Get("lat")), optionalFloat(q.Get("lng"))
	if lat == nil || lng == nil {
		writeError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}
	if !geo.Valid(*lat, *lng) {
		writeError(w, http.StatusBadRequest, "Invalid latitude or longitude")
		return
	}

	distance := defaultNearbyKm
	if raw := strings.TrimSpace(q.Get("distance")); raw != "" {
		d := optionalFloat(raw)
		if d == nil || *d <= 0 {
			writeError(w, http.StatusBadRequest, "Distance must be a positive number")
			return
		}
		distance = *d
	}

	books, err := h.books.Nearby(r.Context(), types.Coordinates{Latitude: *lat, Longitude: *lng}, distance)
	if err != nil {
		writeServerError(w, r, err, "Failed to fetch nearby books")
		return
	}
	if books == nil {
		books = []types.Book{}
	}
	writeJSON(w, http.StatusOK, struct {
		Total    int          `json:"total"`
		Distance float64      `json:"distance"`
		Books    []types.Book `json:"books"`
	}{Total: len(books), Distance: distance, Books: books})
}

func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	callerID, _ := userIDFromContext(r.Context())
	bookID, ok := parseBookID(w, r)
	if !ok {
		return
	}

	body, err := readBody(w, r, formFieldImage)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	patch, errs := parseBookPatch(body)
	if errs != nil {
		writeValidationError(w, errs)
		return
	}

	upload, ok := uploadImage(w, r, h.media, media.FolderBooks, formFieldImage, body.file)
	if !ok {
		return
	}

	book, err := h.books.Update(r.Context(), callerID, bookID, patch, upload)
	if err != nil {
		h.writeBookError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{Message: "Book updated successfully", Book: book})
}

func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	callerID, _ := userIDFromContext(r.Context())
	bookID, ok := parseBookID(w, r)
	if !ok {
		return
	}

	if err := h.books.Delete(r.Context(), callerID, bookID); err != nil {
		h.writeBookError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Book deleted successfully"})
}

func (h *BookHandler) writeBookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Book not found")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "You are not allowed to modify this book")
	default:
		writeServerError(w, r, err, "Internal server error")
	}
}

func parseBookID(w http.ResponseWriter, r *http.Request) (string, bool) {
	bookID := chi.URLParam(r, "bookID")
	if !validation.IsObjectID(bookID) {
		writeError(w, http.StatusBadRequest, "Invalid book ID")
		return "", false
	}
	return strings.ToLower(bookID), true
}

// parseBookQuery reads listing filters. Malformed values are dropped
// rather than rejected.
func parseBookQuery(r *http.Request) types.BookQuery {
	values := r.URL.Query()
	page, limit := parsePagination(r)

	q := types.BookQuery{
		Page:      page,
		Limit:     limit,
		Search:    strings.TrimSpace(values.Get("search")),
		PriceMin:  optionalFloat(values.Get("priceMin")),
		PriceMax:  optionalFloat(values.Get("priceMax")),
		Condition: strings.ToLower(strings.TrimSpace(values.Get("condition"))),
	}

	switch sort := values.Get("sort"); sort {
	case types.SortPriceAsc, types.SortPriceDesc:
		q.Sort = sort
	}

	lat, lng := optionalFloat(values.Get("latitude")), optionalFloat(values.Get("longitude"))
	if lat != nil && lng != nil && geo.Valid(*lat, *lng) {
		q.Near = &types.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	return q
}
