package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/internal/http/handler"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
	"leakwatch.app/sentry/internal/webhook"
)

var _ = Describe("WebhookHandler", func() {
	var (
		router      *gin.Engine
		registry    *mockRegistry
		broadcaster *mockBroadcaster
		events      *mockEventStore
		deliveries  *mockDeliveryStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		registry = &mockRegistry{}
		broadcaster = &mockBroadcaster{}
		events = &mockEventStore{}
		deliveries = &mockDeliveryStore{}

		h := handler.NewWebhookHandler(registry, broadcaster, events, deliveries)
		router.POST("/webhooks", h.Create)
		router.GET("/webhooks", h.List)
		router.DELETE("/webhooks/:id", h.Delete)
		router.POST("/webhooks/deliver/:fingerprint", h.Redeliver)
		router.GET("/deliveries/:fingerprint", h.Deliveries)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("Create", func() {
		It("registers a subscription and returns its id as a string", func() {
			registry.registerFn = func(ctx context.Context, params webhook.RegisterParams) (*model.Subscription, error) {
				Expect(params.URL).To(Equal("https://receiver.example.com/hook"))
				Expect(params.Secret).To(Equal("s"))
				return &model.Subscription{ID: 1234567890123456789, URL: params.URL, Enabled: true}, nil
			}

			w := post("/webhooks", `{"url":"https://receiver.example.com/hook","secret":"s"}`)

			Expect(w.Code).To(Equal(http.StatusCreated))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["id"]).To(Equal("1234567890123456789"))
		})

		It("rejects a body without a url", func() {
			w := post("/webhooks", `{"secret":"s"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid url", func() {
			registry.registerFn = func(ctx context.Context, params webhook.RegisterParams) (*model.Subscription, error) {
				return nil, errors.New(`invalid webhook url "ftp://x"`)
			}

			w := post("/webhooks", `{"url":"ftp://x"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["ok"]).To(BeFalse())
			Expect(resp["error"]).To(ContainSubstring("invalid webhook url"))
		})
	})

	Describe("Delete", func() {
		It("removes by id", func() {
			var removed int64
			registry.removeFn = func(ctx context.Context, subID int64) error {
				removed = subID
				return nil
			}

			req := httptest.NewRequest(http.MethodDelete, "/webhooks/42", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(removed).To(Equal(int64(42)))
		})

		It("rejects a non-numeric id", func() {
			req := httptest.NewRequest(http.MethodDelete, "/webhooks/abc", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown id", func() {
			registry.removeFn = func(ctx context.Context, subID int64) error {
				return store.ErrNotFound
			}

			req := httptest.NewRequest(http.MethodDelete, "/webhooks/7", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Redeliver", func() {
		It("replays a stored event through the broadcaster", func() {
			events.getByFingerprintFn = func(ctx context.Context, fp string) (*model.Event, error) {
				return &model.Event{Fingerprint: fp}, nil
			}
			broadcaster.broadcastFn = func(ctx context.Context, event *model.Event) ([]model.Delivery, error) {
				return []model.Delivery{{ID: "d1", EventFingerprint: event.Fingerprint, Status: model.DeliveryStatusSent}}, nil
			}

			w := post("/webhooks/deliver/abc", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["deliveries"]).To(HaveLen(1))
		})

		It("returns 404 when the event does not exist", func() {
			w := post("/webhooks/deliver/missing", "")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Deliveries", func() {
		It("returns an empty list rather than null", func() {
			req := httptest.NewRequest(http.MethodGet, "/deliveries/abc", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"deliveries":[]`))
		})
	})
})
