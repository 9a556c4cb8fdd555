package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMarket(t *testing.T) *InMemory {
	t.Helper()
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	m := NewInMemory(cat)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return m
}

func TestCatalogParsesCommentsAndTrailingCommas(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, cat.Categories)

	svc, parent, ok := cat.Service("leak_repair")
	require.True(t, ok)
	assert.True(t, svc.RequiresLicense)
	assert.Equal(t, "Plumbing", parent.Name)

	_, _, ok = cat.Service("astrology")
	assert.False(t, ok)

	_, err = ParseCatalog([]byte(`{"categories": [`))
	require.Error(t, err)
}

func TestCatalogFilter(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	hair := cat.Filter("hair")
	require.Len(t, hair, 1)
	assert.Equal(t, "Hair & Beauty", hair[0].Name)

	plumbing := cat.Filter("plumbing")
	assert.Len(t, plumbing, 2, "plumbing widens to home repair")

	assert.Len(t, cat.Filter(""), len(cat.Categories))
	assert.Len(t, cat.Filter("underwater welding"), len(cat.Categories))
}

func TestRequestOfferBookingLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t)
	p := m.AddProvider(Provider{Name: "Bea", Services: []ProviderService{{Type: "haircut", BasePrice: 60}}})
	other := m.AddProvider(Provider{Name: "Pip", Services: []ProviderService{{Type: "plumbing"}}})

	req, err := m.CreateRequest(ctx, NewRequest{
		ConsumerID:  "c1",
		ServiceType: "haircut",
		Location:    "Brooklyn",
		Budget:      Budget{Min: 60, Max: 80},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, StatusMatching, req.Status)

	leads, err := m.MatchingRequests(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, req.ID, leads[0].ID)

	none, err := m.MatchingRequests(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	first, err := m.MarkLeadViewed(ctx, p.ID, req.ID)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := m.MarkLeadViewed(ctx, p.ID, req.ID)
	require.NoError(t, err)
	assert.False(t, again)

	slot := Slot{Date: "2026-03-07", StartTime: "14:00"}
	offer, err := m.SubmitOffer(ctx, NewOffer{RequestID: req.ID, ProviderID: p.ID, Price: 70, Slots: []Slot{slot}})
	require.NoError(t, err)
	rival, err := m.SubmitOffer(ctx, NewOffer{RequestID: req.ID, ProviderID: other.ID, Price: 65})
	require.NoError(t, err)

	offers, err := m.Offers(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	_, err = m.AcceptOffer(ctx, offer.ID, Slot{Date: "2026-03-08", StartTime: "09:00"})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	booking, err := m.AcceptOffer(ctx, offer.ID, slot)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", booking.Status)
	assert.Equal(t, "c1", booking.ConsumerID)
	assert.InDelta(t, 70.0, booking.Price, 1e-9)

	_, err = m.AcceptOffer(ctx, rival.ID, Slot{Date: "2026-03-07", StartTime: "10:00"})
	require.ErrorIs(t, err, ErrOfferClosed, "sibling offers are declined")

	got, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, got.Status)

	leads, err = m.MatchingRequests(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, leads, "booked requests are no longer leads")

	bookings, err := m.ConsumerBookings(ctx, "c1", 5)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
	sent, err := m.ProviderOffers(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t)

	_, err := m.CreateRequest(ctx, NewRequest{Location: "Brooklyn"})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = m.CreateRequest(ctx, NewRequest{ServiceType: "haircut", Budget: Budget{Min: 90, Max: 50}})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = m.SubmitOffer(ctx, NewOffer{RequestID: "missing", Price: 10})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.SubmitOffer(ctx, NewOffer{RequestID: "missing"})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = m.AcceptOffer(ctx, "missing", Slot{})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = m.AcceptOffer(ctx, "missing", Slot{Date: "2026-03-07", StartTime: "14:00"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Provider(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConsumerProfileUpdate(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t)
	name := "Alice"
	c, err := m.UpdateConsumer(ctx, "c1", ConsumerUpdate{
		Name:            &name,
		DefaultLocation: map[string]any{"city": "San Francisco"},
		Preferences:     map[string]any{"hair_type": "4C"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)

	c, err = m.UpdateConsumer(ctx, "c1", ConsumerUpdate{Preferences: map[string]any{"timing": "weekends"}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, map[string]any{"hair_type": "4C", "timing": "weekends"}, c.Preferences)

	profile := c.Profile()
	assert.Equal(t, "Alice", profile["name"])
	assert.Equal(t, map[string]any{"city": "San Francisco"}, profile["default_location"])
	assert.NotContains(t, profile, "email")
}

func TestEnrollmentVerification(t *testing.T) {
	ctx := context.Background()
	m := newTestMarket(t)

	fields, err := m.UpdateEnrollment(ctx, "e1", map[string]any{"full_name": "Dana", "bio": "10 years"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bio", "full_name"}, fields)

	res, err := m.SubmitEnrollment(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, res.Status)
	assert.Equal(t, []string{"services", "location"}, res.Missing)

	_, err = m.UpdateEnrollment(ctx, "e1", map[string]any{
		"location": map[string]any{"city": "Oakland"},
		"services": []any{map[string]any{"service_id": "leak_repair"}},
	})
	require.NoError(t, err)
	res, err = m.SubmitEnrollment(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPendingVerification, res.Status)

	_, err = m.UpdateEnrollment(ctx, "e1", map[string]any{
		"services": []any{map[string]any{"service_id": "haircut", "base_price": 55.0}},
	})
	require.NoError(t, err)
	res, err = m.SubmitEnrollment(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentActive, res.Status)
	assert.True(t, res.CanAutoVerify)

	p, err := m.Provider(ctx, res.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, "Dana", p.Name)
	assert.InDelta(t, 55.0, p.BasePriceFor("haircut"), 1e-9)

	e, err := m.Enrollment(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, EnrollmentActive, e.Status)

	_, err = m.SubmitEnrollment(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
