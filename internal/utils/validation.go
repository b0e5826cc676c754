package utils

import (
	"fmt"
	"strings"
	"time"
)

// ValidPeriods lists the recurrence periods a habit instance can target
var ValidPeriods = []string{"daily", "weekly", "monthly"}

// ValidateTarget checks that a per-period target is within 1-99
func ValidateTarget(target int) error {
	if target < 1 || target > 99 {
		return fmt.Errorf("target must be between 1-99 completions per period")
	}
	return nil
}

// ValidatePeriod checks the period name against ValidPeriods
func ValidatePeriod(period string) error {
	for _, p := range ValidPeriods {
		if strings.EqualFold(p, period) {
			return nil
		}
	}
	return fmt.Errorf("invalid period '%s': expected one of %s", period, strings.Join(ValidPeriods, ", "))
}

// ParseDateFlag parses a date string in ISO format (YYYY-MM-DD).
// Returns nil for empty strings (used to mean "today" or "open ended").
// Returns error for invalid formats or dates.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	// Parse ISO date format (YYYY-MM-DD) in local timezone
	parsedDate, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date format '%s': expected YYYY-MM-DD (e.g., 2025-01-31)", dateStr)
	}

	return &parsedDate, nil
}

