package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReplayWebhook     JobType = "replay_webhook"
	JobTypeHealNotifications JobType = "heal_notifications"
	JobTypePurgeReservations JobType = "purge_reservations"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	DedupeKey   string                 `json:"dedupe_key,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReplayWebhookJobPayload names a parked ledger event to run again.
type ReplayWebhookJobPayload struct {
	Source  string `json:"source"`
	EventID string `json:"event_id"`
}

// ToMap converts the payload to a map for storage
func (p ReplayWebhookJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"source":   p.Source,
		"event_id": p.EventID,
	}
}

// DedupeKey identifies the event so it is queued at most once at a time.
func (p ReplayWebhookJobPayload) DedupeKey() string {
	return string(JobTypeReplayWebhook) + ":" + p.Source + ":" + p.EventID
}

func ReplayWebhookJobPayloadFromMap(data map[string]interface{}) (*ReplayWebhookJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReplayWebhookJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// HealNotificationsJobPayload bounds one pass over fulfilled orders without an email.
type HealNotificationsJobPayload struct {
	IdleSeconds int `json:"idle_seconds"`
	Limit       int `json:"limit"`
}

func (p HealNotificationsJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"idle_seconds": p.IdleSeconds,
		"limit":        p.Limit,
	}
}

func HealNotificationsJobPayloadFromMap(data map[string]interface{}) (*HealNotificationsJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload HealNotificationsJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
