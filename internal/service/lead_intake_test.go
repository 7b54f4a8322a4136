package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/common/phone"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/scoring"
	"brokerdesk.sg/relay/internal/service"
)

var _ = Describe("LeadIntakeService", func() {
	var (
		ctx      context.Context
		brokers  *memBrokerStore
		convs    *memConversationStore
		audits   *mockAuditStore
		chat     *mockLeadChat
		personas *persona.Calculator
		svc      service.LeadIntakeService
		snap     model.LeadSnapshot
	)

	BeforeEach(func() {
		ctx = context.Background()
		brokers = newMemBrokerStore(
			model.Broker{ID: 1, Name: "Michelle Chen", PersonaType: model.PersonalityBalanced, MaxConcurrentChats: 1},
		)
		convs = newMemConversationStore()
		audits = &mockAuditStore{}
		chat = &mockLeadChat{}

		cfg, err := persona.LoadConfig("")
		Expect(err).NotTo(HaveOccurred())
		personas, err = persona.NewCalculator(cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		tx := &mockTxRunner{stores: &mockStoreProvider{brokers: brokers, convs: convs, jobs: &mockJobStore{}, audits: audits}}
		availability := service.NewAvailabilityService(brokers, convs, nil)
		svc = service.NewLeadIntakeService(tx, scoring.Default(), personas, availability, chat, 3)

		snap = model.LeadSnapshot{
			Name:             "Wei Ling",
			Email:            "weiling@example.com",
			Phone:            "9123 4567",
			LoanType:         model.LoanTypeNewPurchase,
			PropertyCategory: "resale",
			PropertyType:     "HDB",
			PropertyPrice:    500_000,
			CombinedAge:      35,
		}
	})

	Describe("Evaluate", func() {
		It("scores, picks a persona and estimates affordability", func() {
			eval := svc.Evaluate(ctx, snap, model.GateG2)

			Expect(eval.Score.Score).To(BeNumerically(">=", 0))
			Expect(eval.Score.Score).To(BeNumerically("<=", 100))
			Expect(eval.Score.Gate).To(Equal(model.GateG2))
			Expect(eval.Score.Segment).To(Equal(model.SegmentFor(eval.Score.Score)))
			Expect(eval.Persona.ID).NotTo(BeEmpty())
			Expect(eval.Analysis.LoanAmount).To(Equal(375_000.0))
		})

		It("returns the same persona for the same lead every time", func() {
			first := svc.Evaluate(ctx, snap, model.GateG2)
			for i := 0; i < 5; i++ {
				Expect(svc.Evaluate(ctx, snap, model.GateG2).Persona).To(Equal(first.Persona))
			}
		})

		It("falls back to the snapshot gate, then G1", func() {
			snap.Gate = model.GateG3
			Expect(svc.Evaluate(ctx, snap, "").Score.Gate).To(Equal(model.GateG3))

			snap.Gate = ""
			Expect(svc.Evaluate(ctx, snap, "G9").Score.Gate).To(Equal(model.GateG1))
		})
	})

	Describe("Submit", func() {
		It("assigns a broker and opens a chat conversation", func() {
			res, err := svc.Submit(ctx, snap, model.GateG2)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Degraded).To(BeFalse())
			Expect(res.Broker).NotTo(BeNil())
			Expect(res.BrokerName).To(Equal("Michelle Chen"))
			Expect(res.ConversationID).To(Equal(int64(42)))
			Expect(res.ContactID).To(Equal(int64(500)))
			Expect(res.Message).To(ContainSubstring("Michelle Chen"))
			Expect(brokers.get(1).CurrentWorkload).To(Equal(1))

			Expect(chat.contacts).To(HaveLen(1))
			Expect(chat.contacts[0].PhoneNumber).To(Equal("+6591234567"))
			Expect(chat.contacts[0].Identifier).To(HaveLen(36))

			Expect(chat.conversations).To(HaveLen(1))
			attrs := chat.conversations[0].CustomAttributes
			Expect(attrs).To(HaveKeyWithValue(chatwoot.AttrLeadScore, res.Score.Score))
			Expect(attrs).To(HaveKeyWithValue(chatwoot.AttrBrokerName, "Michelle Chen"))
			Expect(attrs).To(HaveKeyWithValue(chatwoot.AttrBrokerPersona, res.Persona.ID))
			Expect(attrs).To(HaveKeyWithValue(chatwoot.AttrLoanType, "new_purchase"))
			Expect(chat.conversations[0].SourceID).To(Equal("src-500"))

			conv, err := convs.GetByID(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(*conv.BrokerID).To(Equal(int64(1)))
			Expect(conv.PersonaID).To(Equal(res.Persona.ID))
			Expect(conv.Lead.Phone).To(Equal("+6591234567"))

			Expect(audits.audits).To(HaveLen(1))
			Expect(audits.audits[0].LeadKey).To(Equal("weiling@example.com"))
			Expect(*audits.audits[0].ConversationID).To(Equal(int64(42)))
		})

		It("hands off without a broker when capacity is exhausted", func() {
			_, err := svc.Submit(ctx, snap, model.GateG2)
			Expect(err).NotTo(HaveOccurred())

			res, err := svc.Submit(ctx, snap, model.GateG2)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Degraded).To(BeTrue())
			Expect(res.Broker).To(BeNil())
			Expect(res.BrokerName).To(Equal(res.Persona.Name))
			Expect(res.Message).To(Equal(service.MessageDegraded))
			Expect(brokers.get(1).CurrentWorkload).To(Equal(1))
		})

		It("rejects an invalid phone number before touching anything", func() {
			snap.Phone = "12"

			_, err := svc.Submit(ctx, snap, model.GateG2)

			Expect(err).To(MatchError(service.ErrInvalidPhone))
			Expect(err).To(MatchError(phone.ErrInvalid))
			Expect(chat.contacts).To(BeEmpty())
			Expect(brokers.get(1).CurrentWorkload).To(BeZero())
		})

		It("gives the broker back when the chat backend is down", func() {
			chat.conversationErr = breaker.ErrOpen

			_, err := svc.Submit(ctx, snap, model.GateG2)

			Expect(err).To(MatchError(breaker.ErrOpen))
			Expect(brokers.get(1).CurrentWorkload).To(BeZero())
			Expect(convs.upserts).To(BeZero())
		})

		It("gives the broker back when the conversation cannot be saved", func() {
			convs.upsertErr = errors.New("db down")

			_, err := svc.Submit(ctx, snap, model.GateG2)

			Expect(err).To(HaveOccurred())
			Expect(brokers.get(1).CurrentWorkload).To(BeZero())
		})
	})
})
