package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/scoring"
	"brokerdesk.sg/relay/internal/service"
	"brokerdesk.sg/relay/internal/worker"
)

var _ = Describe("Lead to reply", func() {
	const conversationID = int64(42)

	var (
		ctx    context.Context
		server *httptest.Server
		mu     sync.Mutex
		posts  []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		posts = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`{"payload":[]}`))
				return
			}
			var body struct {
				Content string `json:"content"`
			}
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &body)

			mu.Lock()
			posts = append(posts, r.URL.Path)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 777, "content": body.Content, "message_type": 1})
		}))
		DeferCleanup(server.Close)
	})

	It("scores the lead, queues its message and sends one reply through the guarded client", func() {
		lead := model.LeadSnapshot{
			Name:            "Wei Ling",
			Phone:           "+6591234567",
			LoanType:        model.LoanTypeRefinance,
			PropertyType:    "hdb",
			PropertyValue:   900_000,
			OutstandingLoan: 450_000,
			MonthlyIncome:   12_000,
			LockInStatus:    "ending_soon",
		}
		score := scoring.Default().Score(lead, model.GateG3)

		cfg, err := persona.LoadConfig("")
		Expect(err).NotTo(HaveOccurred())
		personas, err := persona.NewCalculator(cfg, persona.HashTieBreaker{})
		Expect(err).NotTo(HaveOccurred())
		selected := personas.SelectPersona(score.Score, lead)

		jobs := newMemJobStore()
		convs := newMemConversationStore(model.Conversation{
			ID:         conversationID,
			ContactID:  7,
			BrokerName: selected.Name,
			PersonaID:  selected.ID,
			LeadScore:  score.Score,
			Segment:    score.Segment,
			Lead:       lead,
		})
		stores := &mockStores{jobs: jobs, convs: convs}
		producer := &mockProducer{}

		ingest := service.NewMessageIngestService(ingestTxRunner{stores: ingestStores{stores}}, producer, personas, nil)
		res, err := ingest.QueueIncomingMessage(ctx, service.IncomingMessage{
			ConversationID: conversationID,
			ContactID:      7,
			Content:        "How much can I save by refinancing?",
			DedupeKey:      "chatwoot:msg:9001",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Enqueued).To(BeTrue())
		Expect(producer.tasks).To(HaveLen(1))
		task := producer.tasks[0]
		Expect(task.Priority).To(Equal(model.PriorityForSegment(score.Segment)))

		chat := chatwoot.NewGuarded(
			chatwoot.NewClient(chatwoot.Config{BaseURL: server.URL, APIToken: "token", AccountID: 1, InboxID: 3}),
			chatwoot.NewBreaker(breaker.Settings{}),
		)
		gen := &mockResponder{}
		processor := worker.NewReplyProcessor(stores, gen, chat, personas, worker.ProcessorConfig{
			JobTimeout:   time.Second,
			SendTimeout:  time.Second,
			FallbackText: breaker.FallbackResponse("+65 6000 0000"),
		})

		Expect(processor.Process(ctx, queue.Message{
			ID:             "1-0",
			JobID:          task.JobID,
			ConversationID: task.ConversationID,
			Priority:       task.Priority,
			Attempt:        task.Attempt,
		})).To(Succeed())

		mu.Lock()
		Expect(posts).To(Equal([]string{"/api/v1/accounts/1/conversations/42/messages"}))
		mu.Unlock()

		Expect(gen.requests).To(HaveLen(1))
		Expect(gen.requests[0].Persona).To(Equal(selected))

		job := jobs.get(task.JobID)
		Expect(job.Status).To(Equal(model.JobStatusCompleted))
		Expect(*job.OutboundMessageID).To(Equal(int64(777)))
		Expect(job.TotalDurationMs).NotTo(BeNil())
		Expect(*job.TotalDurationMs).To(BeNumerically(">=", 0))
		Expect(chat.Breaker().State()).To(Equal(breaker.StateClosed))
	})
})
