package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/exambook/apiserver/internal/geo"
	"github.com/exambook/apiserver/types"
)

// MemoryUserRepository is an in-process UserRepository for STORE_BACKEND=memory
// and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]types.User)}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.findByEmail(email); ok {
		return user, nil
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) findByEmail(email string) (types.User, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range r.users {
		if strings.ToLower(user.Email) == email {
			return user, true
		}
	}
	return types.User{}, false
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if _, taken := r.findByEmail(user.Email); taken {
		return types.User{}, ErrDuplicate
	}
	if user.ID == "" {
		user.ID = NewID()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if other, taken := r.findByEmail(user.Email); taken && other.ID != user.ID {
		return types.User{}, ErrDuplicate
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

// MemoryBookRepository is an in-process BookRepository. Sellers are
// resolved against users on every read, like the SQL join.
type MemoryBookRepository struct {
	mu    sync.RWMutex
	books map[string]types.Book
	users *MemoryUserRepository
}

func NewMemoryBookRepository(users *MemoryUserRepository) *MemoryBookRepository {
	return &MemoryBookRepository{books: make(map[string]types.Book), users: users}
}

func (r *MemoryBookRepository) Get(ctx context.Context, id string) (types.Book, error) {
	r.mu.RLock()
	book, ok := r.books[id]
	r.mu.RUnlock()
	if !ok {
		return types.Book{}, ErrNotFound
	}
	return r.withSeller(ctx, book, sellerFull), nil
}

func (r *MemoryBookRepository) Create(_ context.Context, book types.Book) (types.Book, error) {
	if book.ID == "" {
		book.ID = NewID()
	}
	if book.Condition == "" {
		book.Condition = types.ConditionUsed
	}
	now := time.Now().UTC()
	book.CreatedAt = now
	book.UpdatedAt = now
	book = normalizeBook(book)

	r.mu.Lock()
	r.books[book.ID] = book
	r.mu.Unlock()
	return book, nil
}

func (r *MemoryBookRepository) Update(_ context.Context, book types.Book) (types.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.books[book.ID]
	if !ok {
		return types.Book{}, ErrNotFound
	}
	book.SellerID = existing.SellerID
	book.CreatedAt = existing.CreatedAt
	book.UpdatedAt = time.Now().UTC()
	book = normalizeBook(book)
	r.books[book.ID] = book
	return book, nil
}

func (r *MemoryBookRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[id]; !ok {
		return ErrNotFound
	}
	delete(r.books, id)
	return nil
}

func (r *MemoryBookRepository) Search(ctx context.Context, q types.BookQuery) ([]types.Book, int, error) {
	r.mu.RLock()
	matches := make([]types.Book, 0, len(r.books))
	for _, book := range r.books {
		if !matchesQuery(book, q) {
			continue
		}
		if q.Near != nil && book.Location == nil {
			continue
		}
		matches = append(matches, book)
	}
	r.mu.RUnlock()

	projection := sellerFull
	if q.Near != nil {
		projection = sellerContact
		near := *q.Near
		distances := make(map[string]float64, len(matches))
		for _, book := range matches {
			distances[book.ID] = geo.HaversineKm(near, coordinatesOf(book))
		}
		sort.Slice(matches, func(i, j int) bool {
			di, dj := distances[matches[i].ID], distances[matches[j].ID]
			if di != dj {
				return di < dj
			}
			return matches[i].ID < matches[j].ID
		})
		for i := range matches {
			d := geo.RoundKm(distances[matches[i].ID])
			matches[i].DistanceInKm = &d
		}
	} else {
		sort.Slice(matches, lessBySort(matches, q.Sort))
	}

	total := len(matches)
	start := min(max(q.Offset(), 0), total)
	end := min(start+max(q.Limit, 0), total)

	page := make([]types.Book, 0, end-start)
	for _, book := range matches[start:end] {
		page = append(page, r.withSeller(ctx, book, projection))
	}
	return page, total, nil
}

func (r *MemoryBookRepository) Nearby(ctx context.Context, point types.Coordinates, km float64) ([]types.Book, error) {
	r.mu.RLock()
	type hit struct {
		book types.Book
		km   float64
	}
	hits := make([]hit, 0)
	for _, book := range r.books {
		if book.Location == nil {
			continue
		}
		if d := geo.HaversineKm(point, coordinatesOf(book)); d <= km {
			hits = append(hits, hit{book: book, km: d})
		}
	}
	r.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].km != hits[j].km {
			return hits[i].km < hits[j].km
		}
		return hits[i].book.ID < hits[j].book.ID
	})

	books := make([]types.Book, 0, len(hits))
	for _, h := range hits {
		book := r.withSeller(ctx, h.book, sellerContact)
		d := geo.RoundKm(h.km)
		book.DistanceInKm = &d
		books = append(books, book)
	}
	return books, nil
}

func (r *MemoryBookRepository) withSeller(ctx context.Context, book types.Book, projection sellerProjection) types.Book {
	book.Seller = nil
	if r.users == nil {
		return book
	}
	user, err := r.users.GetByID(ctx, book.SellerID)
	if err != nil {
		return book
	}
	book.Seller = &types.Seller{ID: user.ID, Name: user.Name, Phone: user.Phone}
	if projection == sellerFull {
		book.Seller.Email = user.Email
	}
	return book
}

// normalizeBook copies the location so stored books never alias caller
// memory and rederives the point from latitude/longitude.
func normalizeBook(book types.Book) types.Book {
	book.Seller = nil
	book.DistanceInKm = nil
	if book.Location != nil {
		book.Location = geo.NewLocation(book.Location.Latitude, book.Location.Longitude, book.Location.FormattedAddress)
	}
	return book
}

func coordinatesOf(book types.Book) types.Coordinates {
	return types.Coordinates{Latitude: book.Location.Latitude, Longitude: book.Location.Longitude}
}

func matchesQuery(book types.Book, q types.BookQuery) bool {
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		if !strings.Contains(strings.ToLower(book.Title), search) &&
			!strings.Contains(strings.ToLower(book.Author), search) {
			return false
		}
	}
	if q.PriceMin != nil && book.Price < *q.PriceMin {
		return false
	}
	if q.PriceMax != nil && book.Price > *q.PriceMax {
		return false
	}
	if q.Condition != "" && book.Condition != q.Condition {
		return false
	}
	if q.SellerID != "" && book.SellerID != q.SellerID {
		return false
	}
	return true
}

func lessBySort(books []types.Book, order string) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := books[i], books[j]
		switch order {
		case types.SortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case types.SortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
}

// MemoryContactRepository keeps contact submissions in-process.
type MemoryContactRepository struct {
	mu       sync.Mutex
	contacts []types.Contact
}

func NewMemoryContactRepository() *MemoryContactRepository {
	return &MemoryContactRepository{}
}

func (r *MemoryContactRepository) Create(_ context.Context, contact types.Contact) (types.Contact, error) {
	contact.ID = NewID()
	contact.CreatedAt = time.Now().UTC()
	r.mu.Lock()
	r.contacts = append(r.contacts, contact)
	r.mu.Unlock()
	return contact, nil
}

// All returns the stored contacts in insertion order.
func (r *MemoryContactRepository) All() []types.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Contact(nil), r.contacts...)
}
