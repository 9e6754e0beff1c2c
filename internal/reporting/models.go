package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.

type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string `json:"tenant_id"`

	TotalCalls     int `json:"total_calls"`
	RingingCalls   int `json:"ringing_calls"`
	ActiveCalls    int `json:"active_calls"`
	EndedCalls     int `json:"ended_calls"`
	MissedCalls    int `json:"missed_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	VoicemailCalls int `json:"voicemail_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	Voicemails int `json:"voicemails"`
	Messages   int `json:"messages"`
}

// PipelineStats reports ingestion queue health, not tenant-scoped: it is an
// operator view of the whole pipeline.

type PipelineStats struct {
	UnprocessedEvents   int        `json:"unprocessed_events"`
	OldestUnprocessedAt *time.Time `json:"oldest_unprocessed_at,omitempty"`
	ProcessedLastHour   int        `json:"processed_last_hour"`
	QueueLagSeconds     int        `json:"queue_lag_seconds"`
}
