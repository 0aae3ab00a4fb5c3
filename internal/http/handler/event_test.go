package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/internal/http/handler"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

var _ = Describe("EventHandler", func() {
	var (
		router *gin.Engine
		events *mockEventStore
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		events = &mockEventStore{}
		h := handler.NewEventHandler(events, nil)
		router.GET("/events", h.List)
		router.GET("/events/stream", h.Stream)
		router.GET("/events/:fingerprint", h.Get)
	})

	Describe("List", func() {
		It("returns records newest-first with a resume cursor", func() {
			newer := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			older := newer.Add(-time.Hour)
			events.listFn = func(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
				return []model.Event{
					{Fingerprint: "fp-new", Platform: "gitlab", Severity: model.SeverityHigh, FoundAt: newer},
					{Fingerprint: "fp-old", Platform: "gitlab", Severity: model.SeverityLow, FoundAt: older},
				}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["ok"]).To(BeTrue())
			Expect(resp["count"]).To(BeEquivalentTo(2))
			Expect(resp["next_cursor"]).To(Equal(older.Format(time.RFC3339Nano)))
		})

		It("walks every event across pages despite sub-second timestamps", func() {
			stored := []model.Event{
				{Fingerprint: "fp-newest", FoundAt: time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)},
				{Fingerprint: "fp-middle", FoundAt: time.Date(2026, 3, 1, 12, 0, 0, 300_000_000, time.UTC)},
				{Fingerprint: "fp-oldest", FoundAt: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)},
			}
			// Strict exclusive bound, same as the SQL (found_at < cursor).
			events.listFn = func(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
				var page []model.Event
				for _, ev := range stored {
					if filter.Cursor != nil && !ev.FoundAt.Before(*filter.Cursor) {
						continue
					}
					page = append(page, ev)
					if len(page) == int(filter.Limit) {
						break
					}
				}
				return page, nil
			}

			var walked []string
			cursor := ""
			for range stored {
				url := "/events?limit=1"
				if cursor != "" {
					url += "&cursor=" + cursor
				}
				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
				Expect(w.Code).To(Equal(http.StatusOK))

				var resp struct {
					Events []struct {
						Event struct {
							ID string `json:"id"`
						} `json:"event"`
					} `json:"events"`
					NextCursor *string `json:"next_cursor"`
				}
				Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
				for _, rec := range resp.Events {
					walked = append(walked, rec.Event.ID)
				}
				if resp.NextCursor == nil {
					break
				}
				cursor = *resp.NextCursor
			}

			Expect(walked).To(Equal([]string{"fp-newest", "fp-middle", "fp-oldest"}))
		})

		It("passes filters and the cursor through to the store", func() {
			var got store.EventFilter
			events.listFn = func(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
				got = filter
				return nil, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
				"/events?platform=gitlab&severity=high&limit=5&cursor=2026-03-01T11:00:00Z", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.Platform).To(Equal("gitlab"))
			Expect(got.Severity).To(Equal("high"))
			Expect(got.Limit).To(Equal(int32(5)))
			Expect(got.Cursor).NotTo(BeNil())
		})

		It("returns an empty page with a null cursor when nothing matches", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["next_cursor"]).To(BeNil())
			Expect(resp["events"]).To(BeEmpty())
		})

		It("rejects an out-of-range limit", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?limit=5000", nil))

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Get", func() {
		It("returns the record for a known fingerprint", func() {
			events.getByFingerprintFn = func(ctx context.Context, fp string) (*model.Event, error) {
				Expect(fp).To(Equal("abc"))
				return &model.Event{Fingerprint: "abc", Platform: "gitlab", FoundAt: time.Now().UTC()}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/abc", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("returns 404 for an unknown fingerprint", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/nope", nil))

			Expect(w.Code).To(Equal(http.StatusNotFound))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["ok"]).To(BeFalse())
			Expect(resp["error"]).To(Equal("not found"))
		})
	})

	Describe("Stream", func() {
		It("responds 503 when the live stream is not configured", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/stream", nil))

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
