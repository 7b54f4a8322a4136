package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/model"
)

const jobColumns = `id, seq, conversation_id, contact_id, broker_id, user_message, message_type, priority,
	source, dedupe_key, status, attempts, queue_add_at, worker_start_at, worker_complete_at,
	chatwoot_send_at, total_duration_ms, response_text, outbound_message_id, used_fallback, error,
	metadata, created_at, updated_at`

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

func (s *jobStore) Create(ctx context.Context, job *model.QueuedMessageJob) (*model.QueuedMessageJob, bool, error) {
	if job.ID == 0 {
		job.ID = id.New()
	}
	queueAdd := time.Now()
	if job.Timing.QueueAddTimestamp != nil {
		queueAdd = *job.Timing.QueueAddTimestamp
	}
	var metadata []byte
	if len(job.Metadata) > 0 {
		metadata = job.Metadata
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO message_jobs (id, conversation_id, contact_id, broker_id, user_message, message_type,
			priority, source, dedupe_key, queue_add_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.ConversationID, job.ContactID, job.BrokerID, job.UserMessage, job.MessageType,
		int(job.Priority), job.Source, job.DedupeKey, queueAdd, metadata)

	saved, err := scanJob(row)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, ErrNotFound) || job.DedupeKey == nil {
		return nil, false, err
	}

	existing, err := scanJob(s.q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM message_jobs WHERE dedupe_key = $1`, *job.DedupeKey))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *jobStore) GetByID(ctx context.Context, jobID int64) (*model.QueuedMessageJob, error) {
	return scanJob(s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM message_jobs WHERE id = $1`, jobID))
}

func (s *jobStore) ListOpen(ctx context.Context, conversationID int64) ([]model.QueuedMessageJob, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+` FROM message_jobs
		WHERE conversation_id = $1 AND status IN ('pending', 'running')
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.QueuedMessageJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *jobStore) MarkStarted(ctx context.Context, jobID int64, at, staleBefore time.Time) (*model.QueuedMessageJob, error) {
	return scanJob(s.q.QueryRow(ctx, `
		UPDATE message_jobs SET
			status = 'running',
			attempts = attempts + 1,
			worker_start_at = COALESCE(worker_start_at, $2),
			updated_at = now()
		WHERE id = $1 AND (status = 'pending' OR (status = 'running' AND updated_at < $3))
		RETURNING `+jobColumns, jobID, at, staleBefore))
}

// MarkGenerated keeps the first generated response so a redelivery sends the
// same text.
func (s *jobStore) MarkGenerated(ctx context.Context, jobID int64, at time.Time, response string, usedFallback bool) (*model.QueuedMessageJob, error) {
	return scanJob(s.q.QueryRow(ctx, `
		UPDATE message_jobs SET
			worker_complete_at = COALESCE(worker_complete_at, $2),
			used_fallback = CASE WHEN response_text IS NULL THEN $4 ELSE used_fallback END,
			response_text = COALESCE(response_text, $3),
			updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, at, response, usedFallback))
}

// MarkSent records delivery. A reply that went out as the fallback leaves the
// job failed so it shows up in failure counts.
func (s *jobStore) MarkSent(ctx context.Context, jobID int64, at time.Time, outboundMessageID int64, text string, usedFallback bool) (*model.QueuedMessageJob, error) {
	return scanJob(s.q.QueryRow(ctx, `
		UPDATE message_jobs SET
			status = CASE WHEN $5 THEN 'failed' ELSE 'completed' END,
			chatwoot_send_at = COALESCE(chatwoot_send_at, $2),
			outbound_message_id = COALESCE(outbound_message_id, $3),
			response_text = $4,
			used_fallback = $5,
			total_duration_ms = GREATEST(
				(EXTRACT(EPOCH FROM (COALESCE(chatwoot_send_at, $2) - queue_add_at)) * 1000)::BIGINT, 0),
			error = CASE WHEN $5 THEN error ELSE NULL END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, at, outboundMessageID, text, usedFallback))
}

func (s *jobStore) MarkPending(ctx context.Context, jobID int64, errMsg string) error {
	return s.setStatus(ctx, jobID, model.JobStatusPending, errMsg)
}

func (s *jobStore) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	return s.setStatus(ctx, jobID, model.JobStatusFailed, errMsg)
}

func (s *jobStore) setStatus(ctx context.Context, jobID int64, status model.JobStatus, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE message_jobs SET status = $2, error = $3, updated_at = now()
		WHERE id = $1 AND outbound_message_id IS NULL`, jobID, string(status), msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*model.QueuedMessageJob, error) {
	var (
		j        model.QueuedMessageJob
		priority int
		status   string
		queueAdd time.Time
		metadata []byte
	)
	err := row.Scan(
		&j.ID, &j.Seq, &j.ConversationID, &j.ContactID, &j.BrokerID, &j.UserMessage, &j.MessageType, &priority,
		&j.Source, &j.DedupeKey, &status, &j.Attempts, &queueAdd, &j.Timing.WorkerStartTimestamp,
		&j.Timing.WorkerCompleteTimestamp, &j.Timing.ChatwootSendTimestamp, &j.TotalDurationMs,
		&j.ResponseText, &j.OutboundMessageID, &j.UsedFallback, &j.Error,
		&metadata, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.Priority = model.Priority(priority)
	j.Status = model.JobStatus(status)
	j.Timing.QueueAddTimestamp = &queueAdd
	if len(metadata) > 0 {
		j.Metadata = metadata
	}
	return &j, nil
}
