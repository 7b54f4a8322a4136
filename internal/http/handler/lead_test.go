package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/internal/http/handler"
	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/service"
)

const supportPhone = "+65 6123 4567"

var _ = Describe("LeadHandler", func() {
	var (
		router *gin.Engine
		svc    *mockLeadService
	)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		router = gin.New()
		svc = &mockLeadService{}
		h := handler.NewLeadHandler(svc, supportPhone)
		router.POST("/leads", h.Submit)
		router.POST("/leads/evaluate", h.Evaluate)
	})

	Describe("Evaluate", func() {
		It("passes the snapshot and gate through and returns the evaluation", func() {
			svc.evaluateFn = func(_ context.Context, _ model.LeadSnapshot, gate model.Gate) service.Evaluation {
				return service.Evaluation{
					Score:   model.LeadScore{Score: 72, Segment: model.SegmentQualified, Gate: gate, Version: "v1"},
					Persona: model.BrokerPersona{ID: "marcus-tan", Name: "Marcus Tan", Type: model.PersonalityBalanced},
				}
			}

			w := post("/leads/evaluate", `{"gate":"G2","lead":{"name":"Mei Ling","loanType":"new_purchase","propertyPrice":"S$1,200,000","monthlyIncome":12000}}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(svc.lastGate).To(Equal(model.GateG2))
			Expect(svc.lastSnapshot.PropertyPrice.Float()).To(Equal(1200000.0))
			Expect(svc.lastSnapshot.MonthlyIncome.Float()).To(Equal(12000.0))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["score"]).To(BeNumerically("==", 72))
			Expect(resp["segment"]).To(Equal("Qualified"))
			Expect(resp["persona"]).To(HaveKeyWithValue("id", "marcus-tan"))
		})

		It("accepts a request without a gate", func() {
			w := post("/leads/evaluate", `{"lead":{"name":"Mei Ling"}}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(svc.lastGate).To(BeEmpty())
		})

		It("treats unparseable amounts as absent", func() {
			w := post("/leads/evaluate", `{"lead":{"loanAmount":"abc","tenure":null}}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(svc.lastSnapshot.LoanAmount.Present()).To(BeFalse())
		})

		DescribeTable("rejects invalid input",
			func(body string) {
				w := post("/leads/evaluate", body)
				Expect(w.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("malformed json", `{`),
			Entry("unknown gate", `{"gate":"G9","lead":{}}`),
			Entry("unknown loan type", `{"lead":{"loanType":"crypto"}}`),
			Entry("unknown snapshot gate", `{"lead":{"gate":"G4"}}`),
			Entry("negative income", `{"lead":{"monthlyIncome":-5000}}`),
		)
	})

	Describe("Submit", func() {
		It("returns 201 with the assigned broker", func() {
			svc.submitFn = func(_ context.Context, _ model.LeadSnapshot, _ model.Gate) (*service.SubmitResult, error) {
				return &service.SubmitResult{
					Evaluation:     service.Evaluation{Score: model.LeadScore{Score: 85, Segment: model.SegmentPremium}},
					BrokerName:     "Grace Lim",
					ConversationID: 42,
					ContactID:      500,
					Message:        fmt.Sprintf(service.MessageAssigned, "Grace Lim"),
				}, nil
			}

			w := post("/leads", `{"gate":"G3","lead":{"name":"Mei Ling","phone":"91234567"}}`)

			Expect(w.Code).To(Equal(http.StatusCreated))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["broker_name"]).To(Equal("Grace Lim"))
			Expect(resp["conversation_id"]).To(BeNumerically("==", 42))
			Expect(resp["degraded"]).To(BeFalse())
			Expect(resp["message"]).To(ContainSubstring("Grace Lim"))
		})

		It("returns 400 for an invalid phone number", func() {
			svc.submitFn = func(_ context.Context, _ model.LeadSnapshot, _ model.Gate) (*service.SubmitResult, error) {
				return nil, fmt.Errorf("%w: too short", service.ErrInvalidPhone)
			}

			w := post("/leads", `{"lead":{"phone":"12"}}`)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 503 with the fallback message when the chat backend circuit is open", func() {
			svc.submitFn = func(_ context.Context, _ model.LeadSnapshot, _ model.Gate) (*service.SubmitResult, error) {
				return nil, fmt.Errorf("creating chat contact: %w", breaker.ErrOpen)
			}

			w := post("/leads", `{"lead":{"name":"Mei Ling"}}`)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			var resp map[string]string
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["message"]).To(ContainSubstring(supportPhone))
		})

		It("returns 500 when the service fails", func() {
			svc.submitFn = func(_ context.Context, _ model.LeadSnapshot, _ model.Gate) (*service.SubmitResult, error) {
				return nil, errors.New("boom")
			}

			w := post("/leads", `{"lead":{"name":"Mei Ling"}}`)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("boom"))
		})
	})
})
