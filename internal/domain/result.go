package domain

import "time"

// ClassificationResult is the outcome of one damage classification.
type ClassificationResult struct {
	Category   string             `json:"category"`
	Confidence float64            `json:"confidence"`
	Details    map[string]float64 `json:"details"`
}

// Timings records how long each stage of a classification took.
type Timings struct {
	Decode     time.Duration
	Gatekeeper time.Duration
	Inference  time.Duration
	Total      time.Duration
}
