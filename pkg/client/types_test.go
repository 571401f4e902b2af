package client

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFlexInt_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected FlexInt
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`" 17 "`, 17},
		{`12.9`, 12},
		{`null`, 0},
		{`"abc"`, 0},
		{`""`, 0},
		{`-5`, -5},
		{`1e20`, math.MaxInt64},
		{`"1e20"`, math.MaxInt64},
		{`99999999999999999999`, math.MaxInt64},
		{`"Infinity"`, math.MaxInt64},
		{`1e400`, math.MaxInt64},
		{`-1e20`, 0},
		{`"-Infinity"`, 0},
		{`"NaN"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var n FlexInt
			if err := json.Unmarshal([]byte(tt.input), &n); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if n != tt.expected {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, n, tt.expected)
			}
		})
	}
}

func TestFlexString_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected FlexString
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`true`, "true"},
		{`null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var s FlexString
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if s != tt.expected {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, s, tt.expected)
			}
		})
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("ParseDateRange() error = %v", err)
	}
	if !r.Valid() {
		t.Error("range should be valid")
	}
	if r.String() != "2024-01-01..2024-01-31" {
		t.Errorf("String() = %q", r.String())
	}

	reversed, err := ParseDateRange("2024-02-01", "2024-01-01")
	if err != nil {
		t.Fatalf("ParseDateRange() error = %v", err)
	}
	if reversed.Valid() {
		t.Error("reversed range should be invalid")
	}

	if _, err := ParseDateRange("01/01/2024", "2024-01-31"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestAvailabilityPage_Pages(t *testing.T) {
	tests := []struct {
		body     string
		expected int
	}{
		{`{"total_pages": 12}`, 12},
		{`{"total_pages": 0}`, 1},
		{`{"total_pages": null}`, 1},
		{`{}`, 1},
		{`{"total_pages": "3"}`, 3},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var page AvailabilityPage
			if err := json.Unmarshal([]byte(tt.body), &page); err != nil {
				t.Fatalf("Unmarshal error = %v", err)
			}
			if got := page.Pages(); got != tt.expected {
				t.Errorf("Pages() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAvailabilityPage_UnmarshalDropsMalformedRecords(t *testing.T) {
	body := `{"devices":[
		{"device_id":1,"device_name":"Panel 1","availability_status":"active","from_date":"2024-01-01","duration_in_seconds":"60"},
		{"device_id":2,"device_name":12345},
		{"device_id":3,"device_name":"Panel 3","availability_status":["active"]},
		{"device_id":4,"device_name":"Panel 4","availability_status":"inactive","from_date":"2024-01-01"}
	],"total_pages":"2"}`

	var page AvailabilityPage
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if len(page.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(page.Devices))
	}
	if page.Devices[0].DeviceID != 1 || page.Devices[1].DeviceID != 4 {
		t.Errorf("Devices = %+v, want devices 1 and 4", page.Devices)
	}
	if page.Devices[0].DurationSeconds != 60 {
		t.Errorf("DurationSeconds = %d, want 60", page.Devices[0].DurationSeconds)
	}
	if page.Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", page.Malformed)
	}
	if page.Pages() != 2 {
		t.Errorf("Pages() = %d, want 2", page.Pages())
	}
}

func TestAvailabilityPage_UnmarshalRejectsNonArrayDevices(t *testing.T) {
	var page AvailabilityPage
	if err := json.Unmarshal([]byte(`{"devices":{"id":1}}`), &page); err == nil {
		t.Error("expected error when devices is not an array")
	}
}
