// Package stayhub implements the channels.Adapter for the StayHub
// distribution partner, a JSON-over-HTTP API with bearer authentication.
package stayhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

type Adapter struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// New builds a StayHub adapter. The HTTP client carries no timeout of its
// own; the executor bounds every call through the context deadline.
func New(baseURL string, logger *zerolog.Logger) *Adapter {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "stayhub").Logger()
	}
	return &Adapter{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  l,
	}
}

func (a *Adapter) Type() string {
	return models.ChannelStayHub
}

// Probe checks that the credentials can read account data.
func (a *Adapter) Probe(ctx context.Context, creds channels.Credentials) error {
	var resp struct {
		Account string `json:"account"`
	}
	if err := a.do(ctx, creds, http.MethodGet, "/v1/ping", nil, &resp); err != nil {
		// A rejected probe at connect time means the credentials are bad,
		// not that an existing session expired.
		if channels.CategoryOf(err) == channels.CategoryAuthExpired {
			return channels.WrapError(channels.CategoryInvalidCredentials, "channel rejected credentials", err)
		}
		return err
	}
	return nil
}

func (a *Adapter) PullCalendar(ctx context.Context, creds channels.Credentials, externalListingID string, from, to time.Time) ([]channels.CalendarDay, error) {
	path := fmt.Sprintf("/v1/listings/%s/calendar?from=%s&to=%s",
		url.PathEscape(externalListingID), from.Format(dateLayout), to.Format(dateLayout))

	var resp struct {
		Days []wireDay `json:"days"`
	}
	if err := a.do(ctx, creds, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	days := make([]channels.CalendarDay, 0, len(resp.Days))
	for _, d := range resp.Days {
		date, err := time.ParseInLocation(dateLayout, d.Date, time.UTC)
		if err != nil {
			return nil, channels.WrapError(channels.CategoryNetworkError,
				fmt.Sprintf("channel returned malformed date %q", d.Date), err)
		}
		days = append(days, channels.CalendarDay{Date: date, Available: d.Available})
	}
	return days, nil
}

func (a *Adapter) PushCalendar(ctx context.Context, creds channels.Credentials, externalListingID string, days []channels.CalendarDay) error {
	body := struct {
		Days []wireDay `json:"days"`
	}{Days: make([]wireDay, 0, len(days))}
	for _, d := range days {
		body.Days = append(body.Days, wireDay{Date: d.Date.Format(dateLayout), Available: d.Available})
	}

	path := fmt.Sprintf("/v1/listings/%s/calendar", url.PathEscape(externalListingID))
	return a.do(ctx, creds, http.MethodPut, path, body, nil)
}

func (a *Adapter) PushPricing(ctx context.Context, creds channels.Credentials, externalListingID string, days []channels.PriceDay) error {
	body := struct {
		Rates []wireRate `json:"rates"`
	}{Rates: make([]wireRate, 0, len(days))}
	for _, d := range days {
		body.Rates = append(body.Rates, wireRate{Date: d.Date.Format(dateLayout), Nightly: d.Nightly})
	}

	path := fmt.Sprintf("/v1/listings/%s/rates", url.PathEscape(externalListingID))
	return a.do(ctx, creds, http.MethodPut, path, body, nil)
}

func (a *Adapter) PullBookings(ctx context.Context, creds channels.Credentials, externalListingID string, since time.Time) ([]channels.BookingRecord, error) {
	path := fmt.Sprintf("/v1/listings/%s/reservations", url.PathEscape(externalListingID))
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var resp struct {
		Reservations []wireReservation `json:"reservations"`
	}
	if err := a.do(ctx, creds, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	bookings := make([]channels.BookingRecord, 0, len(resp.Reservations))
	for _, r := range resp.Reservations {
		checkIn, err := time.ParseInLocation(dateLayout, r.CheckIn, time.UTC)
		if err != nil {
			return nil, channels.WrapError(channels.CategoryNetworkError,
				fmt.Sprintf("channel returned malformed check_in %q", r.CheckIn), err)
		}
		checkOut, err := time.ParseInLocation(dateLayout, r.CheckOut, time.UTC)
		if err != nil {
			return nil, channels.WrapError(channels.CategoryNetworkError,
				fmt.Sprintf("channel returned malformed check_out %q", r.CheckOut), err)
		}
		state := models.BookingConfirmed
		if r.Status == "cancelled" {
			state = models.BookingCancelled
		}
		bookings = append(bookings, channels.BookingRecord{
			ExternalID: r.ID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			GuestName:  r.GuestName,
			TotalPrice: r.TotalPrice,
			State:      state,
		})
	}
	return bookings, nil
}

type wireDay struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

type wireRate struct {
	Date    string  `json:"date"`
	Nightly float64 `json:"nightly"`
}

type wireReservation struct {
	ID         string  `json:"id"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	GuestName  string  `json:"guest_name"`
	TotalPrice float64 `json:"total_price"`
	Status     string  `json:"status"`
}

// do performs one request and maps transport/status failures onto the error
// taxonomy. Partner response bodies never leak into returned details.
func (a *Adapter) do(ctx context.Context, creds channels.Credentials, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds["api_key"])
	req.Header.Set("X-Account", creds["account_id"])
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return channels.WrapError(channels.CategoryTimeout, "channel did not respond in time", err)
		}
		return channels.WrapError(channels.CategoryNetworkError, "channel unreachable", err)
	}
	defer resp.Body.Close()

	if err := categorizeStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		a.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("stayhub request rejected")
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return channels.WrapError(channels.CategoryNetworkError, "channel returned malformed response", err)
		}
	}
	return nil
}

func categorizeStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return channels.NewError(channels.CategoryAuthExpired, "channel authorization rejected")
	case status == http.StatusTooManyRequests:
		return channels.NewError(channels.CategoryRateLimited, "channel rate limit hit")
	case status >= 500:
		return channels.NewError(channels.CategoryNetworkError, fmt.Sprintf("channel server error (%d)", status))
	default:
		return channels.NewError(channels.CategoryNetworkError, fmt.Sprintf("unexpected channel response (%d)", status))
	}
}
