package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/internal/http/handler"
)

var _ = Describe("HealthHandler", func() {
	serve := func(checks map[string]handler.HealthCheck, path string) *httptest.ResponseRecorder {
		router := gin.New()
		h := handler.NewHealthHandler(checks)
		router.GET("/health", h.Live)
		router.GET("/ready", h.Ready)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	It("is live without running checks", func() {
		w := serve(map[string]handler.HealthCheck{"postgres": down}, "/health")
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("is ready when every check passes", func() {
		w := serve(map[string]handler.HealthCheck{"postgres": ok, "redis": ok}, "/ready")
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("reports the failing dependency", func() {
		w := serve(map[string]handler.HealthCheck{"postgres": ok, "redis": down}, "/ready")

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		var resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal("degraded"))
		Expect(resp.Checks).To(Equal(map[string]string{"postgres": "ok", "redis": "unavailable"}))
	})
})
