package models

// ReconcileResult summarises one reconciliation pass
type ReconcileResult struct {
	Artifacts     int      `json:"artifacts"`
	AlreadyLoaded int      `json:"already_loaded"`
	Inserted      []string `json:"inserted"`
	Rows          int      `json:"rows"`
	Failed        []string `json:"failed,omitempty"`
}
