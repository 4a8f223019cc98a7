package worker

import (
	"fmt"
	"time"

	"mail_worker/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	// JobMailSync syncs one account.
	JobMailSync JobType = "mail.sync"
	// JobMailSyncAll fans out one JobMailSync per syncable account.
	JobMailSyncAll JobType = "mail.sync_all"
)

type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Job       *domain.SyncJob `json:"job,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Retries   int             `json:"retries"`
}

func NewMessage(jobType string, job *domain.SyncJob) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Job:       job,
		CreatedAt: time.Now(),
	}
}

// ParseSyncJob decodes a stream payload into a SyncJob.
func ParseSyncJob(data []byte) (*domain.SyncJob, error) {
	var job domain.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode sync job: %w", err)
	}
	if job.AccountID <= 0 {
		return nil, fmt.Errorf("sync job has invalid account_id %d", job.AccountID)
	}
	if job.Attempt < 0 {
		job.Attempt = 0
	}
	return &job, nil
}
