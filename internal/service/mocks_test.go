package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/service"
	"brokerdesk.sg/relay/internal/store"
)

// memBrokerStore applies the same reserve/release transitions as the SQL
// store under one lock.
type memBrokerStore struct {
	mu         sync.Mutex
	brokers    map[int64]*model.Broker
	reserveErr error
	releaseErr error
	listErr    error
}

func newMemBrokerStore(brokers ...model.Broker) *memBrokerStore {
	m := &memBrokerStore{brokers: map[int64]*model.Broker{}}
	for i := range brokers {
		b := brokers[i]
		b.IsActive = true
		b.IsAvailable = b.HasCapacity()
		m.brokers[b.ID] = &b
	}
	return m
}

func (m *memBrokerStore) get(id int64) model.Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.brokers[id]
}

func (m *memBrokerStore) GetByID(_ context.Context, id int64) (*model.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.brokers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBrokerStore) GetByName(_ context.Context, name string) (*model.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.brokers {
		if b.Name == name {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memBrokerStore) ListActive(_ context.Context) ([]model.Broker, error) {
	return m.list(func(b model.Broker) bool { return b.IsActive })
}

func (m *memBrokerStore) ListAvailable(_ context.Context) ([]model.Broker, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list(func(b model.Broker) bool { return b.IsActive && b.IsAvailable })
}

func (m *memBrokerStore) list(keep func(model.Broker) bool) ([]model.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Broker
	for _, b := range m.brokers {
		if keep(*b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memBrokerStore) Upsert(_ context.Context, b *model.Broker) (*model.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	for _, existing := range m.brokers {
		if existing.Name == b.Name {
			cp.ID = existing.ID
			cp.CurrentWorkload = existing.CurrentWorkload
			cp.ActiveConversations = existing.ActiveConversations
			cp.MaxConcurrentChats = max(cp.MaxConcurrentChats, existing.CurrentWorkload, 1)
		}
	}
	if cp.ID == 0 {
		cp.ID = int64(len(m.brokers) + 100)
	}
	cp.IsAvailable = cp.CurrentWorkload < cp.MaxConcurrentChats
	m.brokers[cp.ID] = &cp
	return &cp, nil
}

func (m *memBrokerStore) Reserve(_ context.Context, id int64) (*model.Broker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return nil, false, m.reserveErr
	}
	b, ok := m.brokers[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	next, reserved := b.Reserve()
	*b = next
	cp := *b
	return &cp, reserved, nil
}

func (m *memBrokerStore) Release(_ context.Context, id int64) (*model.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return nil, m.releaseErr
	}
	b, ok := m.brokers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	*b = b.Release()
	cp := *b
	return &cp, nil
}

type memConversationStore struct {
	mu        sync.Mutex
	convs     map[int64]*model.Conversation
	upsertErr error
	upserts   int
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{convs: map[int64]*model.Conversation{}}
}

func (m *memConversationStore) Upsert(_ context.Context, conv *model.Conversation) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserts++
	cp := *conv
	if cp.ProcessingStatus == "" {
		cp.ProcessingStatus = model.ProcessingStatusIdle
	}
	m.convs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memConversationStore) GetByID(_ context.Context, id int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversationStore) Claim(context.Context, int64, int64, time.Time, time.Time) (bool, error) {
	return true, nil
}

func (m *memConversationStore) Renew(context.Context, int64, int64, time.Time) (bool, error) {
	return true, nil
}

func (m *memConversationStore) Unclaim(context.Context, int64, int64) error {
	return nil
}

func (m *memConversationStore) MarkReleased(_ context.Context, id int64, at time.Time) (*model.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if c.ReleasedAt != nil {
		cp := *c
		return &cp, false, nil
	}
	c.ReleasedAt = &at
	cp := *c
	return &cp, true, nil
}

type mockJobStore struct {
	createFn func(ctx context.Context, job *model.QueuedMessageJob) (*model.QueuedMessageJob, bool, error)
	created  []*model.QueuedMessageJob
}

func (m *mockJobStore) Create(ctx context.Context, job *model.QueuedMessageJob) (*model.QueuedMessageJob, bool, error) {
	m.created = append(m.created, job)
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	saved := *job
	now := time.Now()
	saved.Timing.QueueAddTimestamp = &now
	return &saved, true, nil
}

func (m *mockJobStore) GetByID(context.Context, int64) (*model.QueuedMessageJob, error) {
	return nil, store.ErrNotFound
}

func (m *mockJobStore) ListOpen(context.Context, int64) ([]model.QueuedMessageJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkStarted(context.Context, int64, time.Time, time.Time) (*model.QueuedMessageJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkGenerated(context.Context, int64, time.Time, string, bool) (*model.QueuedMessageJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkSent(context.Context, int64, time.Time, int64, string, bool) (*model.QueuedMessageJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkPending(context.Context, int64, string) error { return nil }

func (m *mockJobStore) MarkFailed(context.Context, int64, string) error { return nil }

type mockAuditStore struct {
	createErr error
	audits    []*model.LeadScoreAudit
}

func (m *mockAuditStore) Create(_ context.Context, audit *model.LeadScoreAudit) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.audits = append(m.audits, audit)
	return nil
}

func (m *mockAuditStore) ListByLead(context.Context, string, int32) ([]model.LeadScoreAudit, error) {
	return nil, nil
}

type mockStoreProvider struct {
	brokers *memBrokerStore
	convs   *memConversationStore
	jobs    *mockJobStore
	audits  *mockAuditStore
}

func (m *mockStoreProvider) Brokers() store.BrokerStore                 { return m.brokers }
func (m *mockStoreProvider) Conversations() store.ConversationStore     { return m.convs }
func (m *mockStoreProvider) Jobs() store.JobStore                       { return m.jobs }
func (m *mockStoreProvider) LeadScoreAudits() store.LeadScoreAuditStore { return m.audits }

type mockTxRunner struct {
	stores   service.StoreProvider
	withTxFn func(ctx context.Context, fn func(stores service.StoreProvider) error) error
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	if m.withTxFn != nil {
		return m.withTxFn(ctx, fn)
	}
	return fn(m.stores)
}

type mockProducer struct {
	enqueueErr error
	tasks      []queue.ReplyTask
}

func (m *mockProducer) Enqueue(_ context.Context, task queue.ReplyTask) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockProducer) Close() error { return nil }

type mockLeadChat struct {
	contactErr      error
	conversationErr error
	contacts        []chatwoot.ContactInput
	conversations   []chatwoot.ConversationInput
}

func (m *mockLeadChat) CreateContact(_ context.Context, in chatwoot.ContactInput) (*chatwoot.Contact, error) {
	m.contacts = append(m.contacts, in)
	if m.contactErr != nil {
		return nil, m.contactErr
	}
	c := &chatwoot.Contact{ID: 500, Name: in.Name, Email: in.Email, PhoneNumber: in.PhoneNumber, Identifier: in.Identifier}
	c.ContactInboxes = []chatwoot.ContactInbox{{SourceID: "src-500"}}
	c.ContactInboxes[0].Inbox.ID = 3
	return c, nil
}

func (m *mockLeadChat) CreateConversation(_ context.Context, in chatwoot.ConversationInput) (*chatwoot.Conversation, error) {
	m.conversations = append(m.conversations, in)
	if m.conversationErr != nil {
		return nil, m.conversationErr
	}
	return &chatwoot.Conversation{ID: 42, InboxID: 3, CustomAttributes: in.CustomAttributes}, nil
}

// sequenceTie returns the queued picks in order, then 0.
type sequenceTie struct {
	picks []int
	keys  []string
}

func (s *sequenceTie) Pick(key string, n int) int {
	s.keys = append(s.keys, key)
	if len(s.picks) == 0 {
		return 0
	}
	p := s.picks[0]
	s.picks = s.picks[1:]
	return p % n
}
