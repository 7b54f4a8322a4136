package store

import (
	"context"
	"encoding/json"
	"fmt"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/model"
)

type leadScoreAuditStore struct {
	q db.Querier
}

func newLeadScoreAuditStore(q db.Querier) LeadScoreAuditStore {
	return &leadScoreAuditStore{q: q}
}

func (s *leadScoreAuditStore) Create(ctx context.Context, a *model.LeadScoreAudit) error {
	if a.ID == 0 {
		a.ID = id.New()
	}
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return fmt.Errorf("encoding breakdown: %w", err)
	}
	return s.q.QueryRow(ctx, `
		INSERT INTO lead_score_audit (id, conversation_id, lead_key, gate, score, segment, breakdown, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.ConversationID, a.LeadKey, string(a.Gate), a.Score, string(a.Segment), breakdown, a.Version,
	).Scan(&a.CreatedAt)
}

func (s *leadScoreAuditStore) ListByLead(ctx context.Context, leadKey string, limit int32) ([]model.LeadScoreAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, conversation_id, lead_key, gate, score, segment, breakdown, version, created_at
		FROM lead_score_audit
		WHERE lead_key = $1
		ORDER BY created_at DESC
		LIMIT $2`, leadKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []model.LeadScoreAudit
	for rows.Next() {
		var (
			a         model.LeadScoreAudit
			gate      string
			segment   string
			breakdown []byte
		)
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.LeadKey, &gate, &a.Score, &segment,
			&breakdown, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(breakdown, &a.Breakdown); err != nil {
			return nil, fmt.Errorf("decoding breakdown for audit %d: %w", a.ID, err)
		}
		a.Gate = model.Gate(gate)
		a.Segment = model.Segment(segment)
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
