package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/exambook/apiserver/internal/geo"
	"github.com/exambook/apiserver/types"
)

// BookRepository handles persistence for book listings.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

const bookSelect = `
		SELECT b.id, b.title, b.author, b.description, b.exam_type, b.price, b.condition,
			b.image_url, b.image_media_id, b.seller_id,
			b.latitude, b.longitude, b.formatted_address, b.point,
			b.created_at, b.updated_at,
			u.id, u.name, u.email, u.phone`

const bookFrom = `
		FROM books b
		LEFT JOIN users u ON u.id = b.seller_id`

// sellerProjection selects which seller fields are attached to a book.
type sellerProjection int

const (
	sellerFull sellerProjection = iota
	sellerContact
)

// args accumulates positional parameters for a dynamically built query.
type args struct {
	values  []any
	clauses []string
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

func (a *args) where(clause string) {
	a.clauses = append(a.clauses, clause)
}

func (a *args) whereSQL() string {
	if len(a.clauses) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(a.clauses, " AND ")
}

func applyBookFilter(a *args, q types.BookQuery) {
	if search := strings.TrimSpace(q.Search); search != "" {
		p := a.add("%" + escapeLike(search) + "%")
		a.where(fmt.Sprintf(`(b.title ILIKE %[1]s ESCAPE '\' OR b.author ILIKE %[1]s ESCAPE '\')`, p))
	}
	if q.PriceMin != nil {
		a.where("b.price >= " + a.add(*q.PriceMin))
	}
	if q.PriceMax != nil {
		a.where("b.price <= " + a.add(*q.PriceMax))
	}
	if q.Condition != "" {
		a.where("b.condition = " + a.add(q.Condition))
	}
	if q.SellerID != "" {
		a.where("b.seller_id = " + a.add(q.SellerID))
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// distanceSQL is the haversine distance in kilometres from the point bound
// to latParam/lngParam to the row's stored coordinates.
func distanceSQL(latParam, lngParam string) string {
	return fmt.Sprintf(`(2 * %[1]v * ASIN(LEAST(1, SQRT(
			POWER(SIN(RADIANS(b.latitude - %[2]s::double precision) / 2), 2) +
			COS(RADIANS(%[2]s::double precision)) * COS(RADIANS(b.latitude)) *
			POWER(SIN(RADIANS(b.longitude - %[3]s::double precision) / 2), 2)))))`,
		geo.EarthRadiusKm, latParam, lngParam)
}

func (r *BookRepository) Get(ctx context.Context, id string) (types.Book, error) {
	query := bookSelect + `, NULL::double precision` + bookFrom + `
		WHERE b.id = $1`
	book, err := scanBook(r.db.QueryRowContext(ctx, query, id), sellerFull)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Book{}, ErrNotFound
		}
		return types.Book{}, err
	}
	return book, nil
}

// Search returns one page of books matching q and the total number of
// matches. When q.Near is set only located books match, ordered by
// distance; otherwise ordering follows q.Sort.
func (r *BookRepository) Search(ctx context.Context, q types.BookQuery) ([]types.Book, int, error) {
	a := &args{}
	applyBookFilter(a, q)
	if q.Near != nil {
		a.where("b.latitude IS NOT NULL AND b.longitude IS NOT NULL")
	}

	countQuery := `SELECT COUNT(1)` + bookFrom + a.whereSQL()
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, a.values...).Scan(&total); err != nil {
		return nil, 0, err
	}

	where := a.whereSQL()
	projection := sellerFull
	distance := `NULL::double precision`
	var order string
	switch {
	case q.Near != nil:
		projection = sellerContact
		distance = distanceSQL(a.add(q.Near.Latitude), a.add(q.Near.Longitude))
		order = "distance ASC, b.id ASC"
	case q.Sort == types.SortPriceAsc:
		order = "b.price ASC, b.id ASC"
	case q.Sort == types.SortPriceDesc:
		order = "b.price DESC, b.id ASC"
	default:
		order = "b.created_at DESC, b.id ASC"
	}

	query := bookSelect + `, ` + distance + ` AS distance` + bookFrom + where + `
		ORDER BY ` + order + `
		LIMIT ` + a.add(q.Limit) + ` OFFSET ` + a.add(q.Offset())

	books, err := r.queryBooks(ctx, query, projection, a.values...)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// Nearby returns every located book within km of point, nearest first.
func (r *BookRepository) Nearby(ctx context.Context, point types.Coordinates, km float64) ([]types.Book, error) {
	distance := distanceSQL("$1", "$2")
	query := bookSelect + `, ` + distance + ` AS distance` + bookFrom + `
		WHERE b.point IS NOT NULL
			AND earth_box(ll_to_earth($1, $2), $3) @> ll_to_earth(b.point[2], b.point[1])
			AND ` + distance + ` <= $4
		ORDER BY distance ASC, b.id ASC`
	return r.queryBooks(ctx, query, sellerContact, point.Latitude, point.Longitude, km*1000, km)
}

func (r *BookRepository) queryBooks(ctx context.Context, query string, projection sellerProjection, values ...any) ([]types.Book, error) {
	rows, err := r.db.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]types.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows, projection)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

func scanBook(row interface{ Scan(...any) error }, projection sellerProjection) (types.Book, error) {
	var (
		book                     types.Book
		lat, lng                 sql.NullFloat64
		address                  string
		point                    pq.Float64Array
		sellerID, sellerName     sql.NullString
		sellerEmail, sellerPhone sql.NullString
		distance                 sql.NullFloat64
	)
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Description,
		&book.ExamType,
		&book.Price,
		&book.Condition,
		&book.ImageURL,
		&book.ImageMediaID,
		&book.SellerID,
		&lat,
		&lng,
		&address,
		&point,
		&book.CreatedAt,
		&book.UpdatedAt,
		&sellerID,
		&sellerName,
		&sellerEmail,
		&sellerPhone,
		&distance,
	)
	if err != nil {
		return types.Book{}, err
	}

	if lat.Valid && lng.Valid {
		book.Location = geo.NewLocation(lat.Float64, lng.Float64, address)
		if len(point) == 2 {
			book.Location.Coordinates = [2]float64{point[0], point[1]}
		}
	}
	if sellerID.Valid {
		book.Seller = &types.Seller{ID: sellerID.String, Name: sellerName.String, Phone: sellerPhone.String}
		if projection == sellerFull {
			book.Seller.Email = sellerEmail.String
		}
	}
	if distance.Valid {
		d := geo.RoundKm(distance.Float64)
		book.DistanceInKm = &d
	}
	return book, nil
}

// locationColumns returns latitude, longitude, formatted_address and point
// for b. The point is always derived from latitude and longitude.
func locationColumns(b *types.Book) (sql.NullFloat64, sql.NullFloat64, string, any) {
	if b.Location == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}, "", nil
	}
	loc := b.Location
	loc.Type = "Point"
	loc.Coordinates = geo.Point(loc.Latitude, loc.Longitude)
	return sql.NullFloat64{Float64: loc.Latitude, Valid: true},
		sql.NullFloat64{Float64: loc.Longitude, Valid: true},
		loc.FormattedAddress,
		pq.Float64Array(loc.Coordinates[:])
}

func (r *BookRepository) Create(ctx context.Context, book types.Book) (types.Book, error) {
	now := time.Now().UTC()
	if book.ID == "" {
		book.ID = NewID()
	}
	if book.Condition == "" {
		book.Condition = types.ConditionUsed
	}
	book.CreatedAt = now
	book.UpdatedAt = now
	lat, lng, address, point := locationColumns(&book)

	const query = `
		INSERT INTO books (id, title, author, description, exam_type, price, condition,
			image_url, image_media_id, seller_id, latitude, longitude, formatted_address, point,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		book.ID,
		book.Title,
		book.Author,
		book.Description,
		book.ExamType,
		book.Price,
		book.Condition,
		book.ImageURL,
		book.ImageMediaID,
		book.SellerID,
		lat,
		lng,
		address,
		point,
		book.CreatedAt,
		book.UpdatedAt,
	)
	if err != nil {
		return types.Book{}, mapWriteError(err)
	}
	return book, nil
}

// Update overwrites every mutable column of book. Seller and creation time
// are left untouched.
func (r *BookRepository) Update(ctx context.Context, book types.Book) (types.Book, error) {
	book.UpdatedAt = time.Now().UTC()
	lat, lng, address, point := locationColumns(&book)

	const query = `
		UPDATE books
		SET title = $1,
			author = $2,
			description = $3,
			exam_type = $4,
			price = $5,
			condition = $6,
			image_url = $7,
			image_media_id = $8,
			latitude = $9,
			longitude = $10,
			formatted_address = $11,
			point = $12,
			updated_at = $13
		WHERE id = $14`
	result, err := r.db.ExecContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.Description,
		book.ExamType,
		book.Price,
		book.Condition,
		book.ImageURL,
		book.ImageMediaID,
		lat,
		lng,
		address,
		point,
		book.UpdatedAt,
		book.ID,
	)
	if err != nil {
		return types.Book{}, mapWriteError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Book{}, err
	}
	if affected == 0 {
		return types.Book{}, ErrNotFound
	}
	return book, nil
}

func (r *BookRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM books WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
