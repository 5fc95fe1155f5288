package channels

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Capabilities(t *testing.T) {
	r := DefaultRegistry()

	caps, err := r.Capabilities(models.ChannelStayHub)
	require.NoError(t, err)
	assert.True(t, caps.Supports(models.FacetCalendar))
	assert.True(t, caps.Supports(models.FacetPricing))
	assert.True(t, caps.Supports(models.FacetBookings))

	caps, err = r.Capabilities(models.ChannelVacanzo)
	require.NoError(t, err)
	assert.True(t, caps.Supports(models.FacetCalendar))
	assert.False(t, caps.Supports(models.FacetPricing))
}

func TestRegistry_UnknownChannel(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Capabilities("nosuch")
	require.Error(t, err)
	assert.Equal(t, CategoryUnknownChannel, CategoryOf(err))

	_, err = r.RequiredCredentialFields("nosuch")
	assert.Equal(t, CategoryUnknownChannel, CategoryOf(err))
}

func TestValidateFacets(t *testing.T) {
	r := DefaultRegistry()

	assert.NoError(t, r.ValidateFacets(models.ChannelStayHub, []string{models.FacetCalendar, models.FacetPricing}))

	err := r.ValidateFacets(models.ChannelStayHub, nil)
	assert.Equal(t, CategoryUnsupportedFacet, CategoryOf(err))

	err = r.ValidateFacets(models.ChannelStayHub, []string{"messaging"})
	assert.Equal(t, CategoryUnsupportedFacet, CategoryOf(err))

	err = r.ValidateFacets(models.ChannelVacanzo, []string{models.FacetPricing})
	assert.Equal(t, CategoryUnsupportedFacet, CategoryOf(err))
}

func TestValidateCredentials(t *testing.T) {
	r := DefaultRegistry()

	assert.NoError(t, r.ValidateCredentials(models.ChannelStayHub,
		map[string]string{"api_key": "k", "account_id": "a"}))

	err := r.ValidateCredentials(models.ChannelStayHub, map[string]string{"api_key": "k"})
	assert.Equal(t, CategoryInvalidCredentials, CategoryOf(err))

	err = r.ValidateCredentials(models.ChannelStayHub, nil)
	assert.Equal(t, CategoryInvalidCredentials, CategoryOf(err))
}

func TestRegistry_Types(t *testing.T) {
	assert.Equal(t, []string{models.ChannelStayHub, models.ChannelVacanzo}, DefaultRegistry().Types())
}

func TestErrorTaxonomy(t *testing.T) {
	base := fmt.Errorf("boom")
	wrapped := WrapError(CategoryTimeout, "channel did not respond in time", base)

	assert.Equal(t, CategoryTimeout, CategoryOf(wrapped))
	assert.Equal(t, "channel did not respond in time", DetailOf(wrapped))
	assert.ErrorIs(t, wrapped, base)

	// Another layer of wrapping still resolves.
	outer := fmt.Errorf("sync calendar: %w", wrapped)
	assert.Equal(t, CategoryTimeout, CategoryOf(outer))

	// Uncategorized errors default to the broadest transient class.
	assert.Equal(t, CategoryNetworkError, CategoryOf(errors.New("plain")))
	assert.Equal(t, "plain", DetailOf(errors.New("plain")))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(CategoryRateLimited))
	assert.True(t, Transient(CategoryNetworkError))
	assert.True(t, Transient(CategoryTimeout))
	assert.False(t, Transient(CategoryAuthExpired))
	assert.False(t, Transient(CategoryInvalidCredentials))
	assert.False(t, Transient(CategoryCancelled))
}
