// Package testutil provides testing utilities for the Petfinder collector.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Default credentials accepted by the mock token endpoint.
const (
	MockClientID     = "test-key"
	MockClientSecret = "test-secret"
)

// MockResponse defines a scripted response for the listing endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RequestLog records one listing request received by the mock.
type RequestLog struct {
	Location string
	Page     int
	Limit    int
	Query    url.Values
}

// scripted is a response served for a location/page, optionally a limited number of times.
type scripted struct {
	resp  MockResponse
	times int // 0 = always
}

// MockPetfinder is a configurable mock of the Petfinder v2 API (token + animals).
type MockPetfinder struct {
	server *httptest.Server

	mu             sync.Mutex
	clientID       string
	clientSecret   string
	tokenLifetime  int
	tokens         map[string]bool
	tokenSeq       int
	exchanges      int
	animals        map[string][]int
	totalOverride  map[string]int
	scriptedByPage map[string]*scripted
	queue          []MockResponse
	requests       []RequestLog
}

// NewMockPetfinder creates a new mock API server.
func NewMockPetfinder() *MockPetfinder {
	m := &MockPetfinder{
		clientID:       MockClientID,
		clientSecret:   MockClientSecret,
		tokenLifetime:  3600,
		tokens:         make(map[string]bool),
		animals:        make(map[string][]int),
		totalOverride:  make(map[string]int),
		scriptedByPage: make(map[string]*scripted),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", m.handleToken)
	mux.HandleFunc("/animals", m.handleAnimals)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the mock server base URL.
func (m *MockPetfinder) URL() string {
	return m.server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockPetfinder) TokenURL() string {
	return m.server.URL + "/oauth2/token"
}

// Close shuts down the mock server.
func (m *MockPetfinder) Close() {
	m.server.Close()
}

// SetCredentials changes the accepted client id and secret.
func (m *MockPetfinder) SetCredentials(id, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientID = id
	m.clientSecret = secret
}

// SetTokenLifetime sets expires_in for issued tokens. Zero omits the field.
func (m *MockPetfinder) SetTokenLifetime(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenLifetime = seconds
}

// RevokeTokens invalidates every token issued so far.
func (m *MockPetfinder) RevokeTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]bool)
}

// SetAnimals sets the animal ids returned for a location, in listing order.
func (m *MockPetfinder) SetAnimals(location string, ids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.animals[location] = append([]int(nil), ids...)
}

// SetAnimalCount fills a location with n sequential ids starting at firstID.
func (m *MockPetfinder) SetAnimalCount(location string, n, firstID int) {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = firstID + i
	}
	m.SetAnimals(location, ids...)
}

// SetTotalCount overrides the pagination total_count reported for a location.
func (m *MockPetfinder) SetTotalCount(location string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalOverride[location] = total
}

// SetPageResponse serves resp for the given location and page. times limits how
// often it is served (0 = always); afterwards the regular listing is returned.
func (m *MockPetfinder) SetPageResponse(location string, page int, resp MockResponse, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptedByPage[pageKey(location, page)] = &scripted{resp: resp, times: times}
}

// Enqueue serves the given responses, in order, to the next listing requests.
func (m *MockPetfinder) Enqueue(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resps...)
}

// Requests returns the listing requests received so far.
func (m *MockPetfinder) Requests() []RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestLog(nil), m.requests...)
}

// RequestCount returns the number of listing requests received.
func (m *MockPetfinder) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// TokenExchanges returns the number of successful token exchanges.
func (m *MockPetfinder) TokenExchanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// Reset clears all tracking counters.
func (m *MockPetfinder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.exchanges = 0
}

func (m *MockPetfinder) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "malformed form")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_id") != m.clientID ||
		r.PostForm.Get("client_secret") != m.clientSecret {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-401/","status":401,"title":"Unauthorized","detail":"Access token invalid or expired","error":"invalid_client"}`))
		return
	}

	m.tokenSeq++
	m.exchanges++
	token := fmt.Sprintf("mock-token-%d", m.tokenSeq)
	m.tokens[token] = true

	body := map[string]any{"token_type": "Bearer", "access_token": token}
	if m.tokenLifetime > 0 {
		body["expires_in"] = m.tokenLifetime
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (m *MockPetfinder) handleAnimals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 20
	}

	m.mu.Lock()
	m.requests = append(m.requests, RequestLog{Location: location, Page: page, Limit: limit, Query: q})

	token := bearerToken(r)
	if !m.tokens[token] {
		m.mu.Unlock()
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "Access token invalid or expired")
		return
	}

	var override *MockResponse
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		override = &resp
	} else if s, ok := m.scriptedByPage[pageKey(location, page)]; ok {
		resp := s.resp
		override = &resp
		if s.times > 0 {
			s.times--
			if s.times == 0 {
				delete(m.scriptedByPage, pageKey(location, page))
			}
		}
	}

	ids := m.animals[location]
	total, overridden := m.totalOverride[location]
	m.mu.Unlock()

	if override != nil {
		writeMock(w, *override)
		return
	}

	if !overridden {
		total = len(ids)
	}
	writeJSON(w, http.StatusOK, ListingPage(location, ids, page, limit, total))
}

// ListingPage builds a listing response body for the given page.
func ListingPage(location string, ids []int, page, limit, total int) map[string]any {
	start := (page - 1) * limit
	end := start + limit
	if start > len(ids) {
		start = len(ids)
	}
	if end > len(ids) {
		end = len(ids)
	}

	animals := make([]map[string]any, 0, end-start)
	for _, id := range ids[start:end] {
		animals = append(animals, Animal(id, location))
	}

	totalPages := (total + limit - 1) / limit
	links := map[string]any{}
	if end < len(ids) {
		links["next"] = map[string]string{
			"href": fmt.Sprintf("/v2/animals?location=%s&page=%d&limit=%d", url.QueryEscape(location), page+1, limit),
		}
	}
	if page > 1 {
		links["previous"] = map[string]string{
			"href": fmt.Sprintf("/v2/animals?location=%s&page=%d&limit=%d", url.QueryEscape(location), page-1, limit),
		}
	}

	return map[string]any{
		"animals": animals,
		"pagination": map[string]any{
			"count_per_page": limit,
			"total_count":    total,
			"current_page":   page,
			"total_pages":    totalPages,
			"_links":         links,
		},
	}
}

// Animal returns a realistic animal object with the given id.
func Animal(id int, location string) map[string]any {
	return map[string]any{
		"id":              id,
		"organization_id": "NV123",
		"url":             fmt.Sprintf("https://www.petfinder.com/cat/test-%d/", id),
		"type":            "Cat",
		"species":         "Cat",
		"breeds": map[string]any{
			"primary":   "Domestic Short Hair",
			"secondary": nil,
			"mixed":     false,
			"unknown":   false,
		},
		"colors": map[string]any{
			"primary":   "Black",
			"secondary": nil,
			"tertiary":  nil,
		},
		"age":    "Young",
		"gender": "Female",
		"size":   "Medium",
		"coat":   "Short",
		"attributes": map[string]any{
			"spayed_neutered": true,
			"house_trained":   true,
			"declawed":        false,
			"special_needs":   false,
			"shots_current":   true,
		},
		"environment": map[string]any{
			"children": true,
			"dogs":     nil,
			"cats":     true,
		},
		"tags":        []string{"Friendly", "Playful"},
		"name":        fmt.Sprintf("Cat %d", id),
		"description": "A lovely cat.",
		"photos": []map[string]string{
			{"small": "https://photos.example/s.jpg", "medium": "https://photos.example/m.jpg", "large": "https://photos.example/l.jpg", "full": fmt.Sprintf("https://photos.example/%d.jpg", id)},
		},
		"primary_photo_cropped": map[string]string{"full": fmt.Sprintf("https://photos.example/%d-crop.jpg", id)},
		"status":                "adopted",
		"status_changed_at":     "2020-03-01T18:00:00+0000",
		"published_at":          "2020-01-15T10:00:00+0000",
		"distance":              nil,
		"contact": map[string]any{
			"email": "shelter@example.org",
			"phone": "(555) 555-0100",
			"address": map[string]any{
				"address1": nil,
				"address2": nil,
				"city":     "Las Vegas",
				"state":    "NV",
				"postcode": location,
				"country":  "US",
			},
		},
	}
}

func pageKey(location string, page int) string {
	return location + "#" + strconv.Itoa(page)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeMock(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-%d/","status":%d,"title":%q,"detail":%q}`,
		status, status, title, detail)
}

// NewQuotaResponse creates a 429 quota exhaustion response.
func NewQuotaResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-429/","status":429,"title":"Too Many Requests","detail":"Rate limit exceeded"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-500/","status":500,"title":"Unexpected Error","detail":"Something went wrong"}`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-404/","status":404,"title":"Not Found","detail":"Not Found"}`,
	}
}

// NewInvalidLocationResponse creates the 400 returned for an unknown location.
func NewInvalidLocationResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-00002/","status":400,"title":"Invalid Request","detail":"The request contains invalid parameters.","invalid-params":[{"in":"query","path":"location","message":"Could not determine location."}]}`,
	}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"type":"https://www.petfinder.com/developers/v2/docs/errors/ERR-401/","status":401,"title":"Unauthorized","detail":"Access token invalid or expired"}`,
	}
}
