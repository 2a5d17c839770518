// Package catalog holds the static, read-only template catalog.
package catalog

import (
	"slices"
	"time"

	"github.com/ashureev/nanostyle/internal/domain"
)

var catalogCreatedAt = time.Date(2026, time.February, 7, 12, 0, 0, 0, time.UTC)

var templates = []domain.Template{
	{
		ID:                "general-cinematic",
		Name:              "General Cinematic",
		Description:       "Refines initial idea into a NanoBanana-ready cinematic prompt.",
		InitialInputLabel: "What do you want to create?",
		QuestionCount:     domain.QuestionCount,
		CreatedAt:         catalogCreatedAt,
		UpdatedAt:         catalogCreatedAt,
	},
}

// Catalog looks up templates by identifier.
type Catalog interface {
	FindByID(id string) (domain.Template, bool)
	All() []domain.Template
}

// Static is the built-in catalog.
type Static struct {
	templates []domain.Template
}

// Default returns the built-in template catalog.
func Default() *Static {
	return &Static{templates: templates}
}

// New builds a catalog from the given templates, mainly for tests.
func New(ts ...domain.Template) *Static {
	return &Static{templates: slices.Clone(ts)}
}

// FindByID returns the template with the given id.
func (c *Static) FindByID(id string) (domain.Template, bool) {
	for _, t := range c.templates {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Template{}, false
}

// All returns a copy of every template.
func (c *Static) All() []domain.Template {
	return slices.Clone(c.templates)
}
