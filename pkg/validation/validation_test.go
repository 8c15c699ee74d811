package validation

import (
	"math"
	"strings"
	"testing"
)

func TestValidateCampaignID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "camp-42", false},
		{"valid with underscore", "camp_42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "camp 42", true},
		{"path traversal", "../camp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCampaignID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCampaignID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePageID(t *testing.T) {
	if err := ValidatePageID("page-1"); err != nil {
		t.Errorf("ValidatePageID() unexpected error = %v", err)
	}
	if err := ValidatePageID("page/1"); err == nil {
		t.Error("ValidatePageID() expected error for invalid characters")
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid wss", "wss://signal.example.com/ws", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRTMPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"rtmp", "rtmp://media.example.com/live", false},
		{"rtmps", "rtmps://media.example.com:443/live", false},
		{"http", "http://media.example.com/live", true},
		{"no host", "rtmp:///live", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRTMPURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRTMPURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateExposure(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"lower bound", -1, false},
		{"upper bound", 1, false},
		{"too high", 1.5, true},
		{"too low", -2, true},
		{"nan", math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExposure(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExposure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateResolution(t *testing.T) {
	for _, r := range []string{"720p", "1080p"} {
		if err := ValidateResolution(r); err != nil {
			t.Errorf("ValidateResolution(%q) unexpected error = %v", r, err)
		}
	}
	if err := ValidateResolution("4k"); err == nil {
		t.Error("ValidateResolution(4k) expected error")
	}
}

func TestValidateStringLength(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		min     int
		max     int
		wantErr bool
	}{
		{"valid", "test", 1, 10, false},
		{"too short", "", 1, 10, true},
		{"too long", strings.Repeat("a", 11), 1, 10, true},
		{"unicode", "тест", 1, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStringLength(tt.s, tt.min, tt.max, "field")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStringLength() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
