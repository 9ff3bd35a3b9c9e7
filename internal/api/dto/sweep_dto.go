package dto

import "github.com/cuongbtq/jobpulse/internal/reaper"

type SweepResponse struct {
	Success   bool           `json:"success"`
	Results   *reaper.Result `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}
