package chatwoot_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/model"
)

func decodeEvent(raw string) chatwoot.WebhookEvent {
	var e chatwoot.WebhookEvent
	Expect(json.Unmarshal([]byte(raw), &e)).To(Succeed())
	return e
}

var _ = Describe("WebhookEvent", func() {
	const incoming = `{
		"event": "message_created",
		"id": 9001,
		"content": "What rate can I get?",
		"message_type": "incoming",
		"private": false,
		"sender": {"id": 41, "name": "David", "type": "contact"},
		"conversation": {
			"id": 1001,
			"status": "open",
			"contact_inbox": {"contact_id": 41},
			"custom_attributes": {"lead_score": 92, "broker_name": "Alicia Tan"}
		}
	}`

	It("accepts public incoming messages from the contact", func() {
		e := decodeEvent(incoming)
		Expect(e.IsIncomingContactMessage()).To(BeTrue())
		Expect(e.ConversationID()).To(Equal(int64(1001)))
		Expect(e.ContactID()).To(Equal(int64(41)))
		Expect(e.DedupeKey()).To(Equal("chatwoot:msg:9001"))
		Expect(e.CustomAttributes()).To(HaveKeyWithValue("broker_name", "Alicia Tan"))
	})

	It("has no dedupe key when the payload lacks a message id", func() {
		e := decodeEvent(incoming)
		e.ID = 0
		Expect(e.DedupeKey()).To(BeEmpty())
	})

	DescribeTable("ignores everything else",
		func(mutate func(e *chatwoot.WebhookEvent)) {
			e := decodeEvent(incoming)
			mutate(&e)
			Expect(e.IsIncomingContactMessage()).To(BeFalse())
		},
		Entry("outgoing", func(e *chatwoot.WebhookEvent) { e.MessageType = "outgoing" }),
		Entry("private note", func(e *chatwoot.WebhookEvent) { e.Private = true }),
		Entry("agent sender", func(e *chatwoot.WebhookEvent) { e.Sender.Type = "user" }),
		Entry("other event", func(e *chatwoot.WebhookEvent) { e.Event = "message_updated" }),
		Entry("empty content", func(e *chatwoot.WebhookEvent) { e.Content = "  " }),
	)

	It("detects resolution", func() {
		e := decodeEvent(`{"event":"conversation_status_changed","id":1001,"status":"resolved"}`)
		Expect(e.IsResolved()).To(BeTrue())
		Expect(e.ConversationID()).To(Equal(int64(1001)))

		e = decodeEvent(`{"event":"conversation_status_changed","id":1001,"status":"open"}`)
		Expect(e.IsResolved()).To(BeFalse())
	})

	It("returns empty attributes rather than nil", func() {
		Expect(chatwoot.WebhookEvent{}.CustomAttributes()).NotTo(BeNil())
	})
})

var _ = Describe("VerifySignature", func() {
	body := []byte(`{"event":"message_created"}`)
	sign := func(secret string) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		return hex.EncodeToString(mac.Sum(nil))
	}

	It("accepts a valid signature", func() {
		Expect(chatwoot.VerifySignature("s3cret", body, sign("s3cret"))).To(BeTrue())
		Expect(chatwoot.VerifySignature("s3cret", body, "sha256="+sign("s3cret"))).To(BeTrue())
	})

	It("rejects a wrong signature", func() {
		Expect(chatwoot.VerifySignature("s3cret", body, sign("other"))).To(BeFalse())
	})

	It("is disabled without a secret", func() {
		Expect(chatwoot.VerifySignature("", body, "")).To(BeTrue())
	})
})

var _ = Describe("History", func() {
	It("orders, filters and trims turns", func() {
		msgs := []chatwoot.Message{
			{ID: 3, Content: "reply", MessageType: chatwoot.MessageTypeOutgoing, CreatedAt: 30},
			{ID: 1, Content: "hello", MessageType: chatwoot.MessageTypeIncoming, CreatedAt: 10},
			{ID: 2, Content: "note", MessageType: chatwoot.MessageTypeOutgoing, Private: true, CreatedAt: 20},
			{ID: 4, Content: "assigned", MessageType: chatwoot.MessageTypeActivity, CreatedAt: 40},
			{ID: 5, Content: "rates?", MessageType: chatwoot.MessageTypeIncoming, CreatedAt: 50},
		}

		Expect(chatwoot.History(msgs, 0)).To(Equal([]model.ConversationTurn{
			{Role: model.TurnRoleUser, Content: "hello"},
			{Role: model.TurnRoleAssistant, Content: "reply"},
			{Role: model.TurnRoleUser, Content: "rates?"},
		}))
		Expect(chatwoot.History(msgs, 2)).To(HaveLen(2))
	})
})
