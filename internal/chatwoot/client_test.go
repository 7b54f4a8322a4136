package chatwoot_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/internal/chatwoot"
)

type recordedRequest struct {
	Method string
	Path   string
	Token  string
	Body   map[string]any
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		client   *chatwoot.Client
		requests []recordedRequest
		respond  func(w http.ResponseWriter, r *http.Request)
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		respond = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Token: r.Header.Get("api_access_token")}
			if data, _ := io.ReadAll(r.Body); len(data) > 0 {
				_ = json.Unmarshal(data, &rec.Body)
			}
			requests = append(requests, rec)
			respond(w, r)
		}))
		client = chatwoot.NewClient(chatwoot.Config{
			BaseURL:   server.URL + "/",
			APIToken:  "secret-token",
			AccountID: 3,
			InboxID:   7,
		})
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates a contact in the configured inbox", func() {
		respond = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"payload":{"contact":{"id":41,"name":"David","contact_inboxes":[{"source_id":"src-1","inbox":{"id":7}}]}}}`))
		}

		contact, err := client.CreateContact(ctx, chatwoot.ContactInput{
			Name:        "David",
			Email:       "d@example.com",
			PhoneNumber: "+6591234567",
			Identifier:  "lead-1",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(contact.ID).To(Equal(int64(41)))
		Expect(contact.SourceID(7)).To(Equal("src-1"))

		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Method).To(Equal(http.MethodPost))
		Expect(requests[0].Path).To(Equal("/api/v1/accounts/3/contacts"))
		Expect(requests[0].Token).To(Equal("secret-token"))
		Expect(requests[0].Body).To(HaveKeyWithValue("inbox_id", BeNumerically("==", 7)))
		Expect(requests[0].Body).To(HaveKeyWithValue("phone_number", "+6591234567"))
	})

	It("creates a conversation with custom attributes", func() {
		respond = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":1001,"inbox_id":7,"status":"open"}`))
		}

		conv, err := client.CreateConversation(ctx, chatwoot.ConversationInput{
			ContactID:        41,
			SourceID:         "src-1",
			CustomAttributes: map[string]any{chatwoot.AttrLeadScore: 92},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.ID).To(Equal(int64(1001)))
		Expect(requests[0].Path).To(Equal("/api/v1/accounts/3/conversations"))
		Expect(requests[0].Body).To(HaveKeyWithValue("source_id", "src-1"))
		Expect(requests[0].Body).To(HaveKey("custom_attributes"))
	})

	It("sends an outgoing public message", func() {
		respond = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"id":555,"content":"hi","message_type":1}`))
		}

		msg, err := client.SendMessage(ctx, 1001, "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal(int64(555)))
		Expect(requests[0].Path).To(Equal("/api/v1/accounts/3/conversations/1001/messages"))
		Expect(requests[0].Body).To(HaveKeyWithValue("message_type", "outgoing"))
		Expect(requests[0].Body).To(HaveKeyWithValue("private", false))
	})

	It("updates custom attributes", func() {
		Expect(client.UpdateCustomAttributes(ctx, 1001, map[string]any{"broker_name": "Alicia"})).To(Succeed())
		Expect(requests[0].Path).To(Equal("/api/v1/accounts/3/conversations/1001/custom_attributes"))
		Expect(requests[0].Body).To(HaveKey("custom_attributes"))
	})

	It("lists messages", func() {
		respond = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"payload":[{"id":1,"content":"hello","message_type":0,"created_at":100}]}`))
		}

		msgs, err := client.ListMessages(ctx, 1001)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(requests[0].Method).To(Equal(http.MethodGet))
	})

	It("returns an APIError for non-2xx responses", func() {
		respond = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"invalid"}`))
		}

		_, err := client.SendMessage(ctx, 1001, "hi")
		var apiErr *chatwoot.APIError
		Expect(err).To(BeAssignableToTypeOf(apiErr))
		Expect(chatwoot.IsClientError(err)).To(BeTrue())
	})

	It("does not treat server errors and rate limits as client errors", func() {
		Expect(chatwoot.IsClientError(&chatwoot.APIError{StatusCode: 503})).To(BeFalse())
		Expect(chatwoot.IsClientError(&chatwoot.APIError{StatusCode: 429})).To(BeFalse())
		Expect(chatwoot.IsClientError(context.DeadlineExceeded)).To(BeFalse())
	})
})
