// Package tutorapi is the HTTP client for the marketplace backend: tutor
// profiles, monthly availability and lesson creation.
package tutorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02"

// FetchError reports a failed backend call. Message carries the server's
// error text when it sent one.
type FetchError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: http %d", e.Op, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Tutor is a tutor profile.
type Tutor struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	HourlyRate float64 `json:"hourly_rate"`
}

// Slot is one availability entry as served by the backend.
type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// AvailabilityResponse is the response of the availability endpoint.
type AvailabilityResponse struct {
	AvailableSlots []Slot `json:"available_slots"`
}

// LessonRequest is the body sent to create a lesson.
type LessonRequest struct {
	TutorID         string    `json:"tutor_id"`
	StudentID       string    `json:"student_id"`
	Title           string    `json:"title"`
	Subject         string    `json:"subject"`
	Level           string    `json:"level"`
	Description     string    `json:"description,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	HourlyRate      float64   `json:"hourly_rate"`
	TotalPrice      float64   `json:"total_price"`
	StartLabel      string    `json:"start_label,omitempty"`
	EndLabel        string    `json:"end_label,omitempty"`
}

// Lesson is a lesson persisted by the backend.
type Lesson struct {
	ID        string    `json:"id"`
	TutorID   string    `json:"tutor_id"`
	StudentID string    `json:"student_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Client calls the marketplace backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache configures Redis caching for tutor and availability reads.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseRateLimit caps outgoing requests at rps with the given burst.
func (c *Client) UseRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// GetTutor fetches a tutor profile.
func (c *Client) GetTutor(ctx context.Context, tutorID string) (*Tutor, error) {
	endpoint := fmt.Sprintf("%s/api/tutors/%s", c.baseURL, url.PathEscape(tutorID))
	cacheKey := "tutor:" + cacheID(tutorID)
	var tutor Tutor

	if c.readCache(ctx, cacheKey, &tutor) {
		return &tutor, nil
	}
	if err := c.doGet(ctx, "get tutor", endpoint, &tutor); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, tutor)
	return &tutor, nil
}

// GetAvailability fetches a tutor's open slots between start and end inclusive.
func (c *Client) GetAvailability(ctx context.Context, tutorID string, start, end time.Time) (*AvailabilityResponse, error) {
	from, to := start.Format(dateLayout), end.Format(dateLayout)
	endpoint := fmt.Sprintf("%s/api/tutors/%s/availability?start_date=%s&end_date=%s",
		c.baseURL, url.PathEscape(tutorID), url.QueryEscape(from), url.QueryEscape(to))
	cacheKey := fmt.Sprintf("availability:%s:%s:%s", cacheID(tutorID), from, to)
	var resp AvailabilityResponse

	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.doGet(ctx, "get availability", endpoint, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

// CreateLesson submits a lesson. Cached availability of the tutor is dropped
// on success.
func (c *Client) CreateLesson(ctx context.Context, req LessonRequest) (*Lesson, error) {
	endpoint := fmt.Sprintf("%s/api/lessons", c.baseURL)
	var lesson Lesson
	if err := c.doPost(ctx, "create lesson", endpoint, req, &lesson); err != nil {
		return nil, err
	}
	c.invalidate(ctx, fmt.Sprintf("availability:%s:*", cacheID(req.TutorID)))
	return &lesson, nil
}

// HealthCheck checks if the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/healthz", c.baseURL)
	return c.doGet(ctx, "health check", endpoint, nil)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
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
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) invalidate(ctx context.Context, pattern string) {
	if c.redis == nil {
		return
	}
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		_ = c.redis.Del(ctx, iter.Val()).Err()
	}
}

func (c *Client) doGet(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	c.addHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) doPost(ctx context.Context, op, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return &FetchError{Op: op, Err: err}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &FetchError{Op: op, Status: resp.StatusCode, Message: serverMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// serverMessage extracts {"error": ...} or {"message": ...} from an error body.
func serverMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var wrap struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &wrap); err != nil {
		return strings.TrimSpace(string(data))
	}
	if wrap.Error != "" {
		return wrap.Error
	}
	return wrap.Message
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// cacheID escapes an id for use in cache keys. Glob metacharacters are
// percent-encoded so SCAN patterns only match the id itself.
func cacheID(id string) string {
	return url.PathEscape(id)
}
