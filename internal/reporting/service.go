package reporting

import (
	"context"
	"errors"
	"time"

	"telephony-events/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce tenant filtering.
// - Implementations read the same tables the handlers write; reporting adds
//   no state of its own.

type Repository interface {
	ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
	CountVoicemails(ctx context.Context, tenantID string, from, to time.Time) (int, error)
	CountMessages(ctx context.Context, tenantID string, from, to time.Time) (int, error)

	// Queue-level counters for the operator stats view.
	UnprocessedEvents(ctx context.Context) (count int, oldest *time.Time, err error)
	ProcessedSince(ctx context.Context, since time.Time) (int, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch c.Status {
		case calls.StatusRinging:
			out.RingingCalls++
		case calls.StatusActive:
			out.ActiveCalls++
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusVoicemail:
			out.VoicemailCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	if out.Voicemails, err = s.repo.CountVoicemails(ctx, req.TenantID, req.Range.From, req.Range.To); err != nil {
		return CallsSummary{}, err
	}
	if out.Messages, err = s.repo.CountMessages(ctx, req.TenantID, req.Range.From, req.Range.To); err != nil {
		return CallsSummary{}, err
	}
	return out, nil
}

// Pipeline reports queue depth and lag across all tenants.
func (s *Service) Pipeline(ctx context.Context) (PipelineStats, error) {
	if s.repo == nil {
		return PipelineStats{}, errors.New("reporting: repository not configured")
	}
	now := s.clock().UTC()

	count, oldest, err := s.repo.UnprocessedEvents(ctx)
	if err != nil {
		return PipelineStats{}, err
	}
	processed, err := s.repo.ProcessedSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return PipelineStats{}, err
	}

	out := PipelineStats{
		UnprocessedEvents:   count,
		OldestUnprocessedAt: oldest,
		ProcessedLastHour:   processed,
	}
	if oldest != nil {
		out.QueueLagSeconds = int(now.Sub(*oldest) / time.Second)
	}
	return out, nil
}
