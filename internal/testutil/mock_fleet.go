// Package testutil provides testing utilities for the fleet API client and
// the ingestion pipeline.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Availability is one availability record served by the mock.
type Availability struct {
	DeviceID   int64  `json:"device_id"`
	DeviceName string `json:"device_name"`
	Status     string `json:"availability_status"`
	FromDate   string `json:"from_date"`
	Duration   any    `json:"duration_in_seconds"`
}

// Property is a custom property served by the mock.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Device is one inventory device served by the mock.
type Device struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	SerialNo         string     `json:"serial_no,omitempty"`
	PowerOnTime      string     `json:"power_on_time,omitempty"`
	PowerOffTime     string     `json:"power_off_time,omitempty"`
	LastSeenOn       string     `json:"last_seen_on,omitempty"`
	ConnectionState  string     `json:"connection_state,omitempty"`
	ConnectionStatus string     `json:"connection_status,omitempty"`
	DeviceStatus     string     `json:"device_status,omitempty"`
	CustomProperties []Property `json:"custom_properties,omitempty"`
}

// MockFleet is a configurable mock of the fleet-management API.
type MockFleet struct {
	server *httptest.Server
	mu     sync.Mutex

	availability [][]Availability
	totalPages   int
	inventory    [][]Device
	failures     map[string][]int
	delay        time.Duration

	// Tracking
	RequestCount  int
	PageRequests  map[int]int
	PageTimes     map[int][]time.Time
	LastAuth      string
	LastQuery     map[string]string
	inFlight      int
	MaxInFlight   int
	InventoryHits int
}

// NewMockFleet creates a new mock fleet API server.
func NewMockFleet() *MockFleet {
	m := &MockFleet{
		failures:     make(map[string][]int),
		PageRequests: make(map[int]int),
		PageTimes:    make(map[int][]time.Time),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/reports/device_availabilities.json", m.handleAvailability)
	mux.HandleFunc("/api/v2/devices.json", m.handleDevices)

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.LastAuth = r.Header.Get("Authorization")
		m.LastQuery = map[string]string{}
		for k := range r.URL.Query() {
			m.LastQuery[k] = r.URL.Query().Get(k)
		}
		m.inFlight++
		if m.inFlight > m.MaxInFlight {
			m.MaxInFlight = m.inFlight
		}
		delay := m.delay
		m.mu.Unlock()

		defer func() {
			m.mu.Lock()
			m.inFlight--
			m.mu.Unlock()
		}()

		if delay > 0 {
			time.Sleep(delay)
		}
		mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockFleet) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFleet) Close() {
	m.server.Close()
}

// SetDelay makes every response wait d before being written.
func (m *MockFleet) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetAvailabilityPages configures the availability report. Page n (1-based)
// serves pages[n-1]; total_pages is len(pages).
func (m *MockFleet) SetAvailabilityPages(pages ...[]Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = pages
	m.totalPages = len(pages)
}

// SetReportedTotalPages overrides the total_pages value in every response.
func (m *MockFleet) SetReportedTotalPages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalPages = n
}

// SetInventoryPages configures the inventory. Each page links to the next via
// next_cursor; the last page has a null cursor.
func (m *MockFleet) SetInventoryPages(pages ...[]Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory = pages
}

// FailAvailabilityPage makes the next requests for page answer with the given
// statuses, in order, before it succeeds.
func (m *MockFleet) FailAvailabilityPage(page int, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "page:" + strconv.Itoa(page)
	m.failures[key] = append(m.failures[key], statuses...)
}

// FailInventoryCursor makes requests for cursor (empty for the first page)
// answer with the given statuses before succeeding.
func (m *MockFleet) FailInventoryCursor(cursor string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "cursor:" + cursor
	m.failures[key] = append(m.failures[key], statuses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFleet) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetPageRequests returns how many times page was requested.
func (m *MockFleet) GetPageRequests(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PageRequests[page]
}

// GetPageTimes returns the arrival times of requests for page.
func (m *MockFleet) GetPageTimes(page int) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.PageTimes[page]...)
}

// GetMaxInFlight returns the peak number of concurrent requests observed.
func (m *MockFleet) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlight
}

// GetLastAuth returns the Authorization header of the last request.
func (m *MockFleet) GetLastAuth() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastAuth
}

// GetLastQuery returns the query parameters of the last request.
func (m *MockFleet) GetLastQuery() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.LastQuery))
	for k, v := range m.LastQuery {
		out[k] = v
	}
	return out
}

// popFailure returns the next scripted failure status for key, or 0.
func (m *MockFleet) popFailure(key string) int {
	queue := m.failures[key]
	if len(queue) == 0 {
		return 0
	}
	m.failures[key] = queue[1:]
	return queue[0]
}

func (m *MockFleet) handleAvailability(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page"})
		return
	}

	m.mu.Lock()
	m.PageRequests[page]++
	m.PageTimes[page] = append(m.PageTimes[page], time.Now())
	status := m.popFailure("page:" + strconv.Itoa(page))
	total := m.totalPages
	var records []Availability
	if page <= len(m.availability) {
		records = m.availability[page-1]
	}
	m.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	if records == nil {
		records = []Availability{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":      records,
		"total_pages":  total,
		"current_page": page,
	})
}

func (m *MockFleet) handleDevices(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")

	m.mu.Lock()
	m.InventoryHits++
	status := m.popFailure("cursor:" + cursor)
	pages := m.inventory
	m.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	index := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "c%d", &index); err != nil || index < 0 || index >= len(pages) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
			return
		}
	}

	type envelope struct {
		Device Device `json:"device"`
	}
	devices := []envelope{}
	if index < len(pages) {
		for _, d := range pages[index] {
			devices = append(devices, envelope{Device: d})
		}
	}

	var next any
	if index+1 < len(pages) {
		next = fmt.Sprintf("c%d", index+1)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     devices,
		"next_cursor": next,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
