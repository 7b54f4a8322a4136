package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/model"
)

const conversationColumns = `id, contact_id, broker_id, broker_name, persona_id, lead_score, segment, lead,
	processing_status, claimed_at, released_at, created_at, updated_at`

type conversationStore struct {
	q db.Querier
}

func newConversationStore(q db.Querier) ConversationStore {
	return &conversationStore{q: q}
}

func (s *conversationStore) Upsert(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	lead, err := json.Marshal(c.Lead)
	if err != nil {
		return nil, fmt.Errorf("encoding lead: %w", err)
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO conversations (id, contact_id, broker_id, broker_name, persona_id, lead_score, segment, lead)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			contact_id = EXCLUDED.contact_id,
			broker_id = EXCLUDED.broker_id,
			broker_name = EXCLUDED.broker_name,
			persona_id = EXCLUDED.persona_id,
			lead_score = EXCLUDED.lead_score,
			segment = EXCLUDED.segment,
			lead = EXCLUDED.lead,
			updated_at = now()
		RETURNING `+conversationColumns,
		c.ID, c.ContactID, c.BrokerID, c.BrokerName, c.PersonaID, c.LeadScore, string(c.Segment), lead)
	return scanConversation(row)
}

func (s *conversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *conversationStore) Claim(ctx context.Context, id, token int64, now, staleBefore time.Time) (bool, error) {
	var claimed int64
	err := s.q.QueryRow(ctx, `
		UPDATE conversations SET processing_status = 'processing', claim_token = $2, claimed_at = $3, updated_at = now()
		WHERE id = $1 AND (processing_status = 'idle' OR claimed_at IS NULL OR claimed_at < $4)
		RETURNING id`, id, token, now, staleBefore).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *conversationStore) Renew(ctx context.Context, id, token int64, now time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE conversations SET claimed_at = $3, updated_at = now()
		WHERE id = $1 AND processing_status = 'processing' AND claim_token = $2`, id, token, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *conversationStore) Unclaim(ctx context.Context, id, token int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE conversations SET processing_status = 'idle', claim_token = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND claim_token = $2`, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *conversationStore) MarkReleased(ctx context.Context, id int64, at time.Time) (*model.Conversation, bool, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE conversations SET released_at = $2, updated_at = now()
		WHERE id = $1 AND released_at IS NULL
		RETURNING `+conversationColumns, id, at)

	conv, err := scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	conv, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c       model.Conversation
		segment string
		status  string
		lead    []byte
	)
	err := row.Scan(
		&c.ID, &c.ContactID, &c.BrokerID, &c.BrokerName, &c.PersonaID, &c.LeadScore, &segment, &lead,
		&status, &c.ClaimedAt, &c.ReleasedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(lead) > 0 {
		if err := json.Unmarshal(lead, &c.Lead); err != nil {
			return nil, fmt.Errorf("decoding lead for conversation %d: %w", c.ID, err)
		}
	}
	c.Segment = model.Segment(segment)
	c.ProcessingStatus = model.ProcessingStatus(status)
	return &c, nil
}
