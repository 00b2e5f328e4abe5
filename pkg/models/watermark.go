package models

import (
	"time"
)

// Watermark is the last successfully synchronized point for a target table.
type Watermark struct {
	TableName   string    `json:"table_name"`
	LastRunDate time.Time `json:"last_run_date"`
}

// FiscalYearPolicy computes the watermark used for tables that have never been synchronized.
type FiscalYearPolicy struct {
	// StartMonth is the first month of the fiscal year (1-12).
	StartMonth time.Month

	// Override, when set, is returned verbatim instead of the computed start.
	Override *time.Time

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Default returns the override if configured, otherwise the first day of the current
// fiscal year in UTC: this year if today is on/after StartMonth, else the previous year.
func (p FiscalYearPolicy) Default() time.Time {
	if p.Override != nil {
		return *p.Override
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return FiscalYearStart(now().UTC(), p.StartMonth)
}

// FiscalYearStart returns midnight UTC on the 1st of startMonth in the fiscal year containing today.
func FiscalYearStart(today time.Time, startMonth time.Month) time.Time {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	year := today.Year()
	if today.Month() < startMonth {
		year--
	}
	return time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
}
