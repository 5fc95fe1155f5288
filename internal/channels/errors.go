package channels

import (
	"errors"
	"fmt"
)

// Category classifies every failure the engine surfaces. Adapter errors are
// categorized by the executor and never escape it uncategorized.
type Category string

const (
	CategoryInvalidCredentials Category = "invalid_credentials"
	CategoryUnsupportedFacet   Category = "unsupported_facet"
	CategoryAuthExpired        Category = "auth_expired"
	CategoryRateLimited        Category = "rate_limited"
	CategoryNetworkError       Category = "network_error"
	CategoryTimeout            Category = "timeout"
	CategoryConflict           Category = "conflict"
	CategoryCancelled          Category = "cancelled"
	CategoryNotConnected       Category = "not_connected"
	CategoryUnknownChannel     Category = "unknown_channel"
)

// Error carries a category plus a short human-readable detail. The wrapped
// partner error stays internal; user-visible output is category + detail only.
type Error struct {
	Category Category
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a categorized error without a cause.
func NewError(category Category, detail string) *Error {
	return &Error{Category: category, Detail: detail}
}

// WrapError attaches a category and detail to an underlying error.
func WrapError(category Category, detail string, err error) *Error {
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryOf extracts the category from an error chain. Uncategorized errors
// default to network_error, the broadest transient class.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryNetworkError
}

// DetailOf extracts the human-readable detail, falling back to the error text.
func DetailOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Detail != "" {
		return ce.Detail
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Transient reports whether a failure should be retried at normal cadence
// rather than forcing a manual reconnect.
func Transient(category Category) bool {
	switch category {
	case CategoryRateLimited, CategoryNetworkError, CategoryTimeout:
		return true
	}
	return false
}
