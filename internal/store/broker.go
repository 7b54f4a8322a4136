package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/model"
)

const brokerColumns = `id, name, persona_type, specialties, current_workload, max_concurrent_chats,
	active_conversations, is_available, is_active, created_at, updated_at`

type brokerStore struct {
	q db.Querier
}

func newBrokerStore(q db.Querier) BrokerStore {
	return &brokerStore{q: q}
}

func (s *brokerStore) GetByID(ctx context.Context, brokerID int64) (*model.Broker, error) {
	row := s.q.QueryRow(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE id = $1`, brokerID)
	return scanBroker(row)
}

func (s *brokerStore) GetByName(ctx context.Context, name string) (*model.Broker, error) {
	row := s.q.QueryRow(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE name = $1`, name)
	return scanBroker(row)
}

func (s *brokerStore) ListActive(ctx context.Context) ([]model.Broker, error) {
	return s.list(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE is_active ORDER BY name`)
}

func (s *brokerStore) ListAvailable(ctx context.Context) ([]model.Broker, error) {
	return s.list(ctx, `SELECT `+brokerColumns+` FROM brokers
		WHERE is_active AND is_available
		ORDER BY current_workload::float / max_concurrent_chats, id`)
}

func (s *brokerStore) list(ctx context.Context, query string, args ...any) ([]model.Broker, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brokers []model.Broker
	for rows.Next() {
		b, err := scanBroker(rows)
		if err != nil {
			return nil, err
		}
		brokers = append(brokers, *b)
	}
	return brokers, rows.Err()
}

// Upsert creates or updates a broker's profile. Workload counters are left
// untouched on update.
func (s *brokerStore) Upsert(ctx context.Context, b *model.Broker) (*model.Broker, error) {
	if b.ID == 0 {
		b.ID = id.New()
	}
	specialties := b.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO brokers (id, name, persona_type, specialties, max_concurrent_chats, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			persona_type = EXCLUDED.persona_type,
			specialties = EXCLUDED.specialties,
			max_concurrent_chats = GREATEST(EXCLUDED.max_concurrent_chats, brokers.current_workload, 1),
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING `+brokerColumns,
		b.ID, b.Name, string(b.PersonaType), specialties, max(b.MaxConcurrentChats, 1), b.IsActive)
	return scanBroker(row)
}

func (s *brokerStore) Reserve(ctx context.Context, brokerID int64) (*model.Broker, bool, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE brokers SET
			current_workload = current_workload + 1,
			active_conversations = GREATEST(active_conversations + 1, 1),
			updated_at = now()
		WHERE id = $1 AND current_workload < max_concurrent_chats
		RETURNING `+brokerColumns, brokerID)

	b, err := scanBroker(row)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	// Nothing updated: either full or missing.
	current, err := s.GetByID(ctx, brokerID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *brokerStore) Release(ctx context.Context, brokerID int64) (*model.Broker, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE brokers SET
			current_workload = LEAST(GREATEST(current_workload - 1, 0), max_concurrent_chats),
			active_conversations = GREATEST(active_conversations - 1, 0),
			updated_at = now()
		WHERE id = $1
		RETURNING `+brokerColumns, brokerID)
	return scanBroker(row)
}

func scanBroker(row pgx.Row) (*model.Broker, error) {
	var (
		b           model.Broker
		personaType string
	)
	err := row.Scan(
		&b.ID, &b.Name, &personaType, &b.Specialties, &b.CurrentWorkload, &b.MaxConcurrentChats,
		&b.ActiveConversations, &b.IsAvailable, &b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.PersonaType = model.PersonalityType(personaType)
	return &b, nil
}
