package channels

import (
	"fmt"
	"sort"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
)

// Capabilities describes which sync facets a channel type supports.
type Capabilities struct {
	Calendar  bool `json:"calendar"`
	Pricing   bool `json:"pricing"`
	Bookings  bool `json:"bookings"`
	Messaging bool `json:"messaging"`
	Reviews   bool `json:"reviews"`
}

// Supports reports whether a schedulable facet is covered.
func (c Capabilities) Supports(facet string) bool {
	switch facet {
	case models.FacetCalendar:
		return c.Calendar
	case models.FacetPricing:
		return c.Pricing
	case models.FacetBookings:
		return c.Bookings
	}
	return false
}

// Spec is the static catalog entry for one channel type.
type Spec struct {
	Capabilities     Capabilities
	CredentialFields []string
}

// Registry is the injectable capability catalog. Unknown channel types are a
// configuration error, not a runtime fault.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry builds a registry from a static spec map.
func NewRegistry(specs map[string]Spec) *Registry {
	m := make(map[string]Spec, len(specs))
	for k, v := range specs {
		m[k] = v
	}
	return &Registry{specs: m}
}

// DefaultRegistry catalogs the channel types shipped with the engine.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Spec{
		models.ChannelStayHub: {
			Capabilities:     Capabilities{Calendar: true, Pricing: true, Bookings: true, Reviews: true},
			CredentialFields: []string{"api_key", "account_id"},
		},
		models.ChannelVacanzo: {
			Capabilities:     Capabilities{Calendar: true, Bookings: true},
			CredentialFields: []string{"username", "token"},
		},
	})
}

// Capabilities looks up the facet support for a channel type.
func (r *Registry) Capabilities(channelType string) (Capabilities, error) {
	spec, ok := r.specs[channelType]
	if !ok {
		return Capabilities{}, NewError(CategoryUnknownChannel, fmt.Sprintf("unknown channel type %q", channelType))
	}
	return spec.Capabilities, nil
}

// RequiredCredentialFields returns the credential field names a channel needs,
// sorted for stable output.
func (r *Registry) RequiredCredentialFields(channelType string) ([]string, error) {
	spec, ok := r.specs[channelType]
	if !ok {
		return nil, NewError(CategoryUnknownChannel, fmt.Sprintf("unknown channel type %q", channelType))
	}
	fields := append([]string(nil), spec.CredentialFields...)
	sort.Strings(fields)
	return fields, nil
}

// ValidateFacets checks that every requested facet is schedulable and within
// the channel's capability set.
func (r *Registry) ValidateFacets(channelType string, facets []string) error {
	caps, err := r.Capabilities(channelType)
	if err != nil {
		return err
	}
	if len(facets) == 0 {
		return NewError(CategoryUnsupportedFacet, "at least one facet is required")
	}
	for _, f := range facets {
		if !models.ValidFacet(f) {
			return NewError(CategoryUnsupportedFacet, fmt.Sprintf("unknown facet %q", f))
		}
		if !caps.Supports(f) {
			return NewError(CategoryUnsupportedFacet, fmt.Sprintf("channel %q does not support facet %q", channelType, f))
		}
	}
	return nil
}

// ValidateCredentials checks that all required credential fields are present
// and non-empty.
func (r *Registry) ValidateCredentials(channelType string, creds map[string]string) error {
	fields, err := r.RequiredCredentialFields(channelType)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if creds[f] == "" {
			return NewError(CategoryInvalidCredentials, fmt.Sprintf("missing credential field %q", f))
		}
	}
	return nil
}

// Types lists the catalogued channel types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.specs))
	for t := range r.specs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
