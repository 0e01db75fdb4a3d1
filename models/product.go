package models

import "time"

// Category is one of the fixed storefront categories.
type Category string

const (
	CategoryWinter  Category = "Winter"
	CategorySummer  Category = "Summer"
	CategoryShirt   Category = "Shirt"
	CategoryTShirt  Category = "T-Shirt"
	CategoryPanjabi Category = "Panjabi"
	CategoryOther   Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryWinter,
	CategorySummer,
	CategoryShirt,
	CategoryTShirt,
	CategoryPanjabi,
	CategoryOther,
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Product is a catalog entry with per-size stock.
type Product struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Price       float64        `json:"price"`
	OldPrice    *float64       `json:"oldPrice,omitempty"`
	Images      []string       `json:"images"`
	Stock       map[string]int `json:"stock"`
	Category    Category       `json:"category"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// StockFor returns the available quantity for size. A missing size counts as zero.
func (p *Product) StockFor(size string) int {
	if p == nil || p.Stock == nil {
		return 0
	}
	return p.Stock[size]
}

// PrimaryImage returns the first image URL or "".
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Clone returns a deep copy so callers can mutate stock without touching shared state.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	if p.OldPrice != nil {
		v := *p.OldPrice
		cp.OldPrice = &v
	}
	cp.Images = append([]string(nil), p.Images...)
	cp.Stock = make(map[string]int, len(p.Stock))
	for size, qty := range p.Stock {
		cp.Stock[size] = qty
	}
	return &cp
}
