package collection

// ItemResult is the per-item line of a batch summary.
type ItemResult struct {
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// RunSummary is the structured result every batch operation returns: counts
// by outcome plus a per-item reason. A batch never fails as a whole on
// per-item errors.
type RunSummary struct {
	RunID    string         `json:"run_id,omitempty"`
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
	Items    []ItemResult   `json:"items"`
}

// NewRunSummary creates an empty summary.
func NewRunSummary(runID string) *RunSummary {
	return &RunSummary{RunID: runID, Outcomes: make(map[string]int)}
}

// Add records one item result.
func (s *RunSummary) Add(key, outcome, reason string) {
	s.Total++
	s.Outcomes[outcome]++
	s.Items = append(s.Items, ItemResult{Key: key, Outcome: outcome, Reason: reason})
}

// Count returns the number of items with the given outcome.
func (s *RunSummary) Count(outcome string) int {
	return s.Outcomes[outcome]
}
