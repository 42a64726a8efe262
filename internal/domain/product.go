package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProductTag is the seller-chosen label shown on a listing
type ProductTag string

const (
	TagNone   ProductTag = "NONE"
	TagFree   ProductTag = "FREE"
	TagNew    ProductTag = "NEW"
	TagUsed   ProductTag = "USED"
	TagUrgent ProductTag = "URGENT"
)

// ProductStatus is the sale state of a listing. Any status can be set from any other.
type ProductStatus string

const (
	StatusForSale  ProductStatus = "FOR_SALE"
	StatusReserved ProductStatus = "RESERVED"
	StatusSoldOut  ProductStatus = "SOLD_OUT"
)

// ParseProductTag converts a wire value into a ProductTag. An empty value maps to TagNone.
func ParseProductTag(s string) (ProductTag, error) {
	if s == "" {
		return TagNone, nil
	}
	tag := ProductTag(s)
	if !tag.Valid() {
		return "", NewError(ErrValidation, fmt.Sprintf("unknown product tag %q", s))
	}
	return tag, nil
}

// Valid reports whether t is one of the known tags
func (t ProductTag) Valid() bool {
	switch t {
	case TagNone, TagFree, TagNew, TagUsed, TagUrgent:
		return true
	}
	return false
}

// ParseProductStatus converts a wire value into a ProductStatus
func ParseProductStatus(s string) (ProductStatus, error) {
	status := ProductStatus(s)
	if !status.Valid() {
		return "", NewError(ErrValidation, fmt.Sprintf("unknown product status %q", s))
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses
func (s ProductStatus) Valid() bool {
	switch s {
	case StatusForSale, StatusReserved, StatusSoldOut:
		return true
	}
	return false
}

// Product represents a listing owned by a single seller
type Product struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	SellerID      uuid.UUID      `json:"seller_id" db:"seller_id"`
	CategoryID    uuid.UUID      `json:"category_id" db:"category_id"`
	Title         string         `json:"title" db:"title"`
	Content       string         `json:"content" db:"content"`
	Price         int64          `json:"price" db:"price"`
	TradeCity     *string        `json:"trade_city" db:"trade_city"`
	TradeDistrict *string        `json:"trade_district" db:"trade_district"`
	Tag           ProductTag     `json:"tag" db:"tag"`
	Status        ProductStatus  `json:"status" db:"status"`
	Views         int64          `json:"views" db:"views"`
	Likes         int64          `json:"likes" db:"likes"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
	Seller        *Seller        `json:"seller,omitempty"`
	Category      *Category      `json:"category,omitempty"`
	Images        []ProductImage `json:"images"`
}

// Seller is the public view of the user who owns a listing
type Seller struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Nickname string    `json:"nickname" db:"nickname"`
}

// ProductImage is a stored image attached to exactly one product
type ProductImage struct {
	ID               uuid.UUID `json:"id" db:"id"`
	ProductID        uuid.UUID `json:"product_id" db:"product_id"`
	ImageURL         string    `json:"image_url" db:"image_url"`
	IsRepresentative bool      `json:"is_representative" db:"is_representative"`
	Position         int       `json:"position" db:"position"`
}

// ImageSpec describes an image row to be written for a product
type ImageSpec struct {
	URL              string `json:"image_url"`
	IsRepresentative bool   `json:"is_representative"`
}

// ProductPatch carries a partial update. Nil fields are left untouched.
type ProductPatch struct {
	Title         *string
	Content       *string
	Price         *int64
	CategoryID    *uuid.UUID
	TradeCity     *string
	TradeDistrict *string
	Tag           *ProductTag
	Status        *ProductStatus
}

// Empty reports whether the patch changes no scalar field
func (p ProductPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Price == nil && p.CategoryID == nil &&
		p.TradeCity == nil && p.TradeDistrict == nil && p.Tag == nil && p.Status == nil
}

// Category represents a product category
type Category struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	IconName  string    `json:"icon_name" db:"icon_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
