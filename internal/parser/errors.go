package parser

import (
	"errors"
	"fmt"

	"github.com/maltedev/trustpilot-scraper/internal/models"
)

var (
	ErrExtraction         = errors.New("extraction failed")
	ErrCategoryDerivation = errors.New("category derivation failed")
	ErrUnknownHandler     = errors.New("unknown page handler")
)

// ExtractionError reports a required element missing from a document.
// It is fatal to the page it was raised for and to nothing else.
type ExtractionError struct {
	URL    string
	Role   models.Handler
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %s %s: field %q: %s", ErrExtraction, e.Role, e.URL, e.Field, e.Reason)
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// CategoryDerivationError wraps a failure to compute the subcategory of a
// listing page from its URL.
type CategoryDerivationError struct {
	URL string
	Err error
}

func (e *CategoryDerivationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCategoryDerivation, e.URL, e.Err)
}

func (e *CategoryDerivationError) Unwrap() error {
	return e.Err
}

func (e *CategoryDerivationError) Is(target error) bool {
	return target == ErrCategoryDerivation
}

func missing(pageURL string, role models.Handler, field, reason string) *ExtractionError {
	return &ExtractionError{
		URL:    pageURL,
		Role:   role,
		Field:  field,
		Reason: reason,
	}
}
