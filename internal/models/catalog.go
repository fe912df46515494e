package models

import "time"

// Product is the SaaS product whose metadata is submitted to directories
type Product struct {
	ID           string    `json:"id" yaml:"id" badgerhold:"key"`
	Name         string    `json:"name" yaml:"name" validate:"required,max=200"`
	URL          string    `json:"url" yaml:"url" validate:"required,url" badgerhold:"index"`
	Description  string    `json:"description,omitempty" yaml:"description"`
	Category     string    `json:"category,omitempty" yaml:"category"`
	ContactEmail string    `json:"contact_email" yaml:"contact_email" validate:"required,email"`
	LogoPath     string    `json:"logo_path,omitempty" yaml:"logo_path"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// Attributes returns the values offered to form mapping, keyed by purpose
func (p *Product) Attributes() map[Purpose]string {
	return map[Purpose]string{
		PurposeName:        p.Name,
		PurposeURL:         p.URL,
		PurposeEmail:       p.ContactEmail,
		PurposeDescription: p.Description,
		PurposeCategory:    p.Category,
		PurposeLogo:        p.LogoPath,
	}
}

// Directory is a third-party listing site that accepts product submissions
type Directory struct {
	ID          string    `json:"id" yaml:"id" badgerhold:"key"`
	Name        string    `json:"name" yaml:"name" validate:"required,max=200"`
	URL         string    `json:"url" yaml:"url" validate:"required,url" badgerhold:"index"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Category    string    `json:"category,omitempty" yaml:"category"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}
