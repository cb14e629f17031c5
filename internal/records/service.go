package records

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("records: invalid time range")

// CallsSummary aggregates stored call outcomes over a time range.
type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`
	EscalatedCalls  int `json:"escalated_calls"`
	WithTranscript  int `json:"with_transcript"`
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Service answers reporting queries over retained call records.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, rng TimeRange) (CallsSummary, error) {
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return CallsSummary{}, ErrInvalidRange
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("records: repository not configured")
	}

	rows, err := s.repo.ListCallRecords(ctx, rng.From, rng.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: rng}
	for _, rec := range rows {
		out.TotalCalls++
		switch rec.Status {
		case StatusSuccess:
			out.SuccessfulCalls++
		case StatusFailed:
			out.FailedCalls++
		case StatusSkipped:
			// not counted separately
		}
		if rec.FinalState == "MERGED" {
			out.EscalatedCalls++
		}
		if rec.Transcript != "" {
			out.WithTranscript++
		}
	}
	return out, nil
}
