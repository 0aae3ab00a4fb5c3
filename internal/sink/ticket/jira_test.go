package ticket_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/sink/ticket"
	"leakwatch.app/sentry/internal/store"
)

var _ = Describe("JiraSink", func() {
	var (
		ctx    context.Context
		events *mockEventStore
		event  *model.Event
	)

	newSink := func(server string) *ticket.JiraSink {
		return ticket.NewJiraSink(config.JiraConfig{
			Server:         server,
			Username:       "bot@example.com",
			APIToken:       "token",
			Project:        "SEC",
			IssueType:      "Task",
			CreateOnDetect: true,
			MinSeverity:    model.SeverityLow,
		}, "https://dash.example.com", events, nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		events = &mockEventStore{}
		event = &model.Event{
			Fingerprint:     "fp-1",
			Platform:        "gitlab",
			Severity:        model.SeverityHigh,
			FoundAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Container:       model.Container{Type: "issue", ID: "proj#7", Name: "Deploy notes"},
			Detections:      []model.Detection{{Label: "aws_access_key", Match: "AKIA****"}},
			SnippetRedacted: "key is ****",
		}
	})

	It("files an issue and records the key on the event", func() {
		var gotPayload map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/rest/api/2/issue"))
			user, _, ok := r.BasicAuth()
			Expect(ok).To(BeTrue())
			Expect(user).To(Equal("bot@example.com"))

			body, _ := io.ReadAll(r.Body)
			Expect(json.Unmarshal(body, &gotPayload)).To(Succeed())

			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"key":"SEC-101"}`))
		}))
		defer server.Close()

		sink := newSink(server.URL)
		Expect(sink.Deliver(ctx, event)).To(Succeed())

		Expect(events.refs).To(HaveLen(1))
		Expect(events.refs[0].sink).To(Equal(store.TicketSinkJira))
		Expect(events.refs[0].ref).To(Equal("SEC-101"))
		Expect(event.Status.JiraKey).To(HaveValue(Equal("SEC-101")))

		fields := gotPayload["fields"].(map[string]any)
		Expect(fields["summary"]).To(ContainSubstring("aws_access_key"))
		Expect(fields["labels"]).To(ContainElement("data-leakage"))
	})

	It("does nothing when the event already carries a jira key", func() {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer server.Close()

		existing := "SEC-1"
		event.Status.JiraKey = &existing

		sink := newSink(server.URL)
		Expect(sink.Deliver(ctx, event)).To(Succeed())
		Expect(calls).To(BeZero())
		Expect(events.refs).To(BeEmpty())
	})

	It("tolerates losing the guarded update race", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"key":"SEC-102"}`))
		}))
		defer server.Close()

		events.setTicketRefFn = func(context.Context, string, store.TicketSink, string) (bool, error) {
			return false, nil
		}

		sink := newSink(server.URL)
		Expect(sink.Deliver(ctx, event)).To(Succeed())
		Expect(event.Status.JiraKey).To(BeNil())
	})

	It("fails fast on a 4xx from jira", func() {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "field required", http.StatusBadRequest)
		}))
		defer server.Close()

		sink := newSink(server.URL)
		err := sink.Deliver(ctx, event)
		Expect(err).To(MatchError(ContainSubstring("400")))
		Expect(calls).To(Equal(1))
		Expect(events.refs).To(BeEmpty())
	})

	It("is ineligible below the configured severity floor", func() {
		events = &mockEventStore{}
		sink := ticket.NewJiraSink(config.JiraConfig{
			Server:         "https://jira.example.com",
			Username:       "bot",
			APIToken:       "t",
			Project:        "SEC",
			IssueType:      "Task",
			CreateOnDetect: true,
			MinSeverity:    model.SeverityHigh,
		}, "", events, nil)

		event.Severity = model.SeverityMedium
		Expect(sink.Eligible(event)).To(BeFalse())

		event.Severity = model.SeverityHigh
		Expect(sink.Eligible(event)).To(BeTrue())
	})
})
