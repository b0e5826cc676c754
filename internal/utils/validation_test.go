package utils

import (
	"testing"
	"time"
)

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  int
		wantErr bool
	}{
		{"minimum", 1, false},
		{"typical", 3, false},
		{"maximum", 99, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.target)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTarget(%d) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePeriod(t *testing.T) {
	tests := []struct {
		period  string
		wantErr bool
	}{
		{"daily", false},
		{"Weekly", false},
		{"monthly", false},
		{"hourly", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			err := ValidatePeriod(tt.period)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePeriod(%q) error = %v, wantErr %v", tt.period, err, tt.wantErr)
			}
		})
	}
}

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		name     string
		dateFlag string
		wantDate *time.Time
		wantErr  bool
	}{
		{
			name:     "empty string returns nil",
			dateFlag: "",
			wantDate: nil,
			wantErr:  false,
		},
		{
			name:     "valid ISO date",
			dateFlag: "2026-01-15",
			wantDate: ptrTime(time.Date(2026, 1, 15, 0, 0, 0, 0, time.Local)),
			wantErr:  false,
		},
		{
			name:     "another valid date",
			dateFlag: "2025-12-31",
			wantDate: ptrTime(time.Date(2025, 12, 31, 0, 0, 0, 0, time.Local)),
			wantErr:  false,
		},
		{
			name:     "invalid format - text",
			dateFlag: "not-a-date",
			wantErr:  true,
		},
		{
			name:     "invalid format - wrong separator",
			dateFlag: "2026/01/15",
			wantErr:  true,
		},
		{
			name:     "invalid month",
			dateFlag: "2026-13-15",
			wantErr:  true,
		},
		{
			name:     "invalid day",
			dateFlag: "2026-01-40",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDateFlag(tt.dateFlag)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDateFlag(%q) error = %v, wantErr %v", tt.dateFlag, err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if (result == nil) != (tt.wantDate == nil) {
					t.Errorf("ParseDateFlag(%q) nil mismatch: got %v, want %v", tt.dateFlag, result, tt.wantDate)
					return
				}
				if result != nil && tt.wantDate != nil && !result.Equal(*tt.wantDate) {
					t.Errorf("ParseDateFlag(%q) = %v, want %v", tt.dateFlag, result, tt.wantDate)
				}
			}
		})
	}
}

// ptrTime is a helper to create a time pointer
func ptrTime(t time.Time) *time.Time {
	return &t
}
