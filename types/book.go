package types

import (
	"math"
	"time"
)

// Book conditions accepted by the marketplace.
const (
	ConditionNew  = "new"
	ConditionUsed = "used"
)

// Sort orders for non-proximity listings.
const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

// Book represents a single listing owned by one seller.
type Book struct {
	// ID is the 24-character hex identifier of the listing.
	ID string `json:"id" db:"id"`

	// Title is the book's title as entered by the seller.
	Title string `json:"title" db:"title"`

	// Author is the book's author as entered by the seller.
	Author string `json:"author" db:"author"`

	// Description is optional free text about the copy being sold.
	Description string `json:"description,omitempty" db:"description"`

	// ExamType optionally tags the exam the book prepares for.
	ExamType string `json:"examType,omitempty" db:"exam_type"`

	// Price is the asking price. It is always positive.
	Price float64 `json:"price" db:"price"`

	// Condition is either "new" or "used".
	Condition string `json:"condition" db:"condition"`

	// ImageURL is the public URL of the listing photo.
	ImageURL string `json:"imageUrl" db:"image_url"`

	// ImageMediaID is the media host's identifier for the listing photo.
	ImageMediaID string `json:"-" db:"image_media_id"`

	// SellerID references the owning User.
	SellerID string `json:"sellerId" db:"seller_id"`

	// Seller is the denormalized seller projection attached on reads.
	// Proximity results omit the email.
	Seller *Seller `json:"seller,omitempty" db:"-"`

	// Location is where the book can be picked up, if the seller supplied one.
	Location *Location `json:"location,omitempty" db:"-"`

	// DistanceInKm is set on proximity results only, rounded to one decimal.
	DistanceInKm *float64 `json:"distanceInKm,omitempty" db:"-"`

	// CreatedAt is the timestamp at which the listing was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the listing.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Seller is the reduced user projection embedded in book responses.
type Seller struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone"`
}

// Location holds the raw coordinates, the geocoded address, and the
// GeoJSON-style point derived from them.
type Location struct {
	// Type is always "Point".
	Type string `json:"type"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// FormattedAddress is the reverse geocoded, human-readable address.
	FormattedAddress string `json:"formattedAddress"`

	// Coordinates is [longitude, latitude]. It is recomputed from
	// Latitude and Longitude on every persist.
	Coordinates [2]float64 `json:"coordinates"`
}

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// BookQuery describes a paginated listing request.
// Nil pointers mean "no constraint".
type BookQuery struct {
	Page      int
	Limit     int
	Search    string
	PriceMin  *float64
	PriceMax  *float64
	Condition string
	SellerID  string
	Sort      string

	// Near switches the listing to proximity mode when set.
	Near *Coordinates
}

// Offset returns the number of rows skipped before the requested page,
// saturating at math.MaxInt for pages far past the end.
func (q BookQuery) Offset() int {
	if q.Page < 1 || q.Limit < 1 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

// BookPage is the paginated listing response payload.
type BookPage struct {
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Books      []Book `json:"books"`
}
