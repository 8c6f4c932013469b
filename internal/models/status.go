package models

import "fmt"

// Status is the outcome of processing one trading date
type Status int

const (
	StatusSuccess Status = iota + 1
	StatusError
	StatusSkippedWeekend
	StatusSkippedHoliday
	StatusSkippedExists
)

var statusNames = map[Status]string{
	StatusSuccess:        "SUCCESS",
	StatusError:          "ERROR",
	StatusSkippedWeekend: "SKIPPED_WEEKEND",
	StatusSkippedHoliday: "SKIPPED_HOLIDAY",
	StatusSkippedExists:  "SKIPPED_EXISTS",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Skipped reports whether the status is one of the skip outcomes
func (s Status) Skipped() bool {
	return s == StatusSkippedWeekend || s == StatusSkippedHoliday || s == StatusSkippedExists
}

// DownloadStatus is the record produced once per processed date
type DownloadStatus struct {
	Date    string `json:"date"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// NewDownloadStatus creates the status record for a date
func NewDownloadStatus(date TradingDate, status Status, msg string) DownloadStatus {
	return DownloadStatus{
		Date:    date.Key(),
		Status:  status.String(),
		Code:    int(status),
		Message: msg,
	}
}

// Is reports whether the record carries the given status
func (s DownloadStatus) Is(status Status) bool {
	return s.Code == int(status)
}

// StatusCounts tallies outcomes by status name
func StatusCounts(statuses []DownloadStatus) map[string]int {
	counts := make(map[string]int, len(statusNames))
	for _, s := range statuses {
		counts[s.Status]++
	}
	return counts
}
