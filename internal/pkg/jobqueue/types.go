package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/technovacao/registration/internal/pkg/payments"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReconcilePayment JobType = "reconcile_payment"
	JobTypeReconcileSale    JobType = "reconcile_legacy_sale"
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
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReconcileJobPayload carries one reconciliation task through Redis
type ReconcileJobPayload struct {
	PaymentID string `json:"payment_id,omitempty"` // provider payment id
	Email     string `json:"email,omitempty"`      // legacy sale buyer
	LogID     uint   `json:"log_id,omitempty"`     // webhook log row that produced the task
}

// ToMap converts the payload to a map for storage
func (p ReconcileJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"log_id": p.LogID,
	}
	if p.PaymentID != "" {
		m["payment_id"] = p.PaymentID
	}
	if p.Email != "" {
		m["email"] = p.Email
	}
	return m
}

// ReconcileJobPayloadFromMap creates a payload from a map
func ReconcileJobPayloadFromMap(data map[string]interface{}) (*ReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// jobTypeForTask maps a reconciliation task to its job type
func jobTypeForTask(kind payments.TaskKind) (JobType, bool) {
	switch kind {
	case payments.TaskPayment:
		return JobTypeReconcilePayment, true
	case payments.TaskLegacySale:
		return JobTypeReconcileSale, true
	}
	return "", false
}

// Task rebuilds the reconciliation task of a job
func (p ReconcileJobPayload) Task(jobType JobType) payments.Task {
	kind := payments.TaskPayment
	if jobType == JobTypeReconcileSale {
		kind = payments.TaskLegacySale
	}
	return payments.Task{Kind: kind, PaymentID: p.PaymentID, Email: p.Email, LogID: p.LogID}
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

// RetryDelay is the backoff before the given attempt: 30s doubling per
// attempt, capped at ten minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

func (j *Job) startedAt() time.Time {
	if j.ProcessedAt != nil && !j.ProcessedAt.IsZero() {
		return *j.ProcessedAt
	}
	if !j.UpdatedAt.IsZero() {
		return j.UpdatedAt
	}
	return j.CreatedAt
}
