// Package churchtools is the HTTP client for the scheduling system: the
// booking source, the group membership source and person lookups.
package churchtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"saltosync/internal/models"
)

// Client talks to the ChurchTools REST API.
type Client struct {
	host       string
	loginToken string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client for the given host, authenticating every
// request with the login token. requestsPerSec bounds the request rate;
// zero means the default of 10 req/s.
func NewClient(host, loginToken string, requestsPerSec float64, logger zerolog.Logger) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &Client{
		host:       host,
		loginToken: loginToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec)+1),
		logger:     logger.With().Str("component", "churchtools").Logger(),
	}
}

// UseRedisCache configures optional Redis caching for person and group
// member lookups.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// booking payload shapes, matching /api/bookings.
type bookingsResponse struct {
	Data []bookingData `json:"data"`
}

type bookingData struct {
	Base       bookingBase       `json:"base"`
	Calculated bookingCalculated `json:"calculated"`
}

type bookingBase struct {
	ID          int64           `json:"id"`
	ResourceID  int64           `json:"resourceId"`
	Appointment *appointmentRef `json:"appointment"`
	Description *string         `json:"description"`
	Meta        bookingMeta     `json:"meta"`
}

type bookingMeta struct {
	CreatedPerson struct {
		ID int64 `json:"id"`
	} `json:"createdPerson"`
}

type appointmentRef struct {
	ID         int64 `json:"id"`
	CalendarID int64 `json:"calendarId"`
}

type bookingCalculated struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Bookings fetches pending and approved bookings for the given resources in
// the [from, to] date window and resolves each owner's transponder id. A
// booking linked to a calendar appointment takes the appointment's times.
func (c *Client) Bookings(ctx context.Context, resourceIDs []int64, from, to time.Time) ([]models.Booking, error) {
	endpoint := fmt.Sprintf("https://%s/api/bookings", c.host)
	query := make([][2]string, 0, len(resourceIDs)+4)
	for _, id := range resourceIDs {
		query = append(query, [2]string{"resource_ids[]", strconv.FormatInt(id, 10)})
	}
	query = append(query,
		[2]string{"from", from.UTC().Format("2006-01-02")},
		[2]string{"to", to.UTC().Format("2006-01-02")},
		// Pending bookings grant access too: anyone could gain entry by
		// filing a request, which the operators accepted when the room
		// setup was designed.
		[2]string{"status_ids[]", "1"},
		[2]string{"status_ids[]", "2"},
	)

	var resp bookingsResponse
	if err := c.doGet(ctx, endpoint, query, &resp); err != nil {
		return nil, fmt.Errorf("get bookings: %w", err)
	}

	transponders := map[int64]*int64{}
	bookings := make([]models.Booking, 0, len(resp.Data))
	for _, data := range resp.Data {
		b, err := c.toBooking(ctx, data)
		if err != nil {
			return nil, err
		}
		if cached, ok := transponders[b.CreatedBy]; ok {
			b.OwnerTransponderID = cached
		} else {
			transponder, err := c.PersonTransponder(ctx, b.CreatedBy)
			if err != nil {
				return nil, err
			}
			transponders[b.CreatedBy] = transponder
			b.OwnerTransponderID = transponder
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

func (c *Client) toBooking(ctx context.Context, data bookingData) (models.Booking, error) {
	startDate := data.Calculated.StartDate
	endDate := data.Calculated.EndDate

	// Bookings created from a calendar entry show that entry's times, not
	// the resource's.
	if data.Base.Appointment != nil {
		day, _, _ := strings.Cut(startDate, "T")
		tf, err := c.appointment(ctx, data.Base.Appointment.CalendarID, data.Base.Appointment.ID, day)
		if err != nil {
			return models.Booking{}, err
		}
		startDate, endDate = tf.StartDate, tf.EndDate
	}

	start, err := parseBookingTime(startDate, false)
	if err != nil {
		return models.Booking{}, fmt.Errorf("booking %d start: %w", data.Base.ID, err)
	}
	end, err := parseBookingTime(endDate, true)
	if err != nil {
		return models.Booking{}, fmt.Errorf("booking %d end: %w", data.Base.ID, err)
	}

	var description string
	if data.Base.Description != nil {
		description = *data.Base.Description
	}
	return models.Booking{
		ID:          data.Base.ID,
		ResourceID:  data.Base.ResourceID,
		StartTime:   start,
		EndTime:     end,
		Description: description,
		CreatedBy:   data.Base.Meta.CreatedPerson.ID,
	}, nil
}

// parseBookingTime accepts RFC 3339 datetimes and bare dates. All-day
// entries span the whole day: date-only starts are midnight, date-only ends
// are end of day.
func parseBookingTime(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	if endOfDay {
		return d.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
	}
	return d, nil
}

type appointmentResponse struct {
	Data appointmentData `json:"data"`
}

type appointmentData struct {
	// Repeating appointments carry per-day times and take precedence.
	CalculatedDates map[string]timeframe `json:"calculatedDates"`
	Calculated      *timeframe           `json:"calculated"`
}

type timeframe struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (c *Client) appointment(ctx context.Context, calendarID, appointmentID int64, day string) (timeframe, error) {
	endpoint := fmt.Sprintf("https://%s/api/calendars/%d/appointments/%d", c.host, calendarID, appointmentID)
	var resp appointmentResponse
	if err := c.doGet(ctx, endpoint, nil, &resp); err != nil {
		return timeframe{}, fmt.Errorf("get appointment %d: %w", appointmentID, err)
	}
	if len(resp.Data.CalculatedDates) > 0 {
		tf, ok := resp.Data.CalculatedDates[day]
		if !ok {
			return timeframe{}, fmt.Errorf("appointment %d has no calculated datetime on %s", appointmentID, day)
		}
		return tf, nil
	}
	if resp.Data.Calculated == nil {
		return timeframe{}, fmt.Errorf("appointment %d has no calculated datetime", appointmentID)
	}
	return *resp.Data.Calculated, nil
}

type personResponse struct {
	Data personFields `json:"data"`
}

type personFields struct {
	TransponderID *int64 `json:"transponderId"`
}

// PersonTransponder returns a person's transponder id, or nil when the
// profile has none.
func (c *Client) PersonTransponder(ctx context.Context, personID int64) (*int64, error) {
	cacheKey := fmt.Sprintf("person:%d", personID)
	var resp personResponse
	if c.readCache(ctx, cacheKey, &resp) {
		return resp.Data.TransponderID, nil
	}

	endpoint := fmt.Sprintf("https://%s/api/persons/%d", c.host, personID)
	if err := c.doGet(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("get person %d: %w", personID, err)
	}
	c.writeCache(ctx, cacheKey, resp)
	return resp.Data.TransponderID, nil
}

type groupMembersResponse struct {
	Data []groupMemberData `json:"data"`
}

type groupMemberData struct {
	PersonFields personFields `json:"personFields"`
}

// GroupTransponders returns the transponder ids of all members of a group.
// Members without a transponder are skipped. Pages until an empty page.
func (c *Client) GroupTransponders(ctx context.Context, groupID int64) ([]int64, error) {
	cacheKey := fmt.Sprintf("group:%d", groupID)
	var cached []int64
	if c.readCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	endpoint := fmt.Sprintf("https://%s/api/groups/%d/members", c.host, groupID)
	var transponders []int64
	for page := 1; ; page++ {
		query := [][2]string{
			{"page", strconv.Itoa(page)},
			// large limit to usually make only one request
			{"limit", "100"},
			{"personFields[]", "transponderId"},
		}
		var resp groupMembersResponse
		if err := c.doGet(ctx, endpoint, query, &resp); err != nil {
			return nil, fmt.Errorf("get group %d members page %d: %w", groupID, page, err)
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, member := range resp.Data {
			if member.PersonFields.TransponderID != nil {
				transponders = append(transponders, *member.PersonFields.TransponderID)
			}
		}
	}
	c.writeCache(ctx, cacheKey, transponders)
	return transponders, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, "ct:"+key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, "ct:"+key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, query [][2]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for _, kv := range query {
		q.Add(kv[0], kv[1])
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Login "+c.loginToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}
