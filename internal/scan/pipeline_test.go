package scan_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/internal/connector"
	"leakwatch.app/sentry/internal/detect"
	"leakwatch.app/sentry/internal/dispatch"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/scan"
	"leakwatch.app/sentry/internal/webhook"
)

// Full path: one leaked message in, one stored event and one signed
// webhook delivery out.
var _ = Describe("Detection pipeline", func() {
	It("turns a leaked message into a stored event and a signed delivery", func() {
		var (
			mu        sync.Mutex
			bodies    [][]byte
			sigs      []string
			fpHeaders []string
		)
		receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, body)
			sigs = append(sigs, r.Header.Get("X-Sentry-Signature"))
			fpHeaders = append(fpHeaders, r.Header.Get("X-Sentry-Fingerprint"))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer receiver.Close()

		slackPlatform := "slack"
		gitlabPlatform := "gitlab"
		subs := &mockSubscriptionStore{subs: []model.Subscription{
			{ID: 1, URL: receiver.URL, Secret: "s3cret", Enabled: true,
				Filters: model.SubscriptionFilters{Platform: &slackPlatform}},
			{ID: 2, URL: receiver.URL + "/other", Secret: "other", Enabled: true,
				Filters: model.SubscriptionFilters{Platform: &gitlabPlatform}},
		}}
		deliveries := &mockDeliveryStore{}
		events := &mockEventStore{}

		dispatcher := dispatch.New(events, nil, nil)
		dispatcher.Register(webhook.NewDeliverer(subs, deliveries, nil, nil))

		rules := detect.Compile(map[string]string{
			"password_assignment": `password\s+is\s+\S+`,
			"credit_card":         `\b(?:\d[ -]*?){13,16}\b`,
		})
		runner := scan.NewRunner(rules, events, &mockCursorStore{}, dispatcher, nil, nil)
		runner.Register(&mockConnector{platform: "slack", fetchFn: func(context.Context, *time.Time) ([]connector.Item, error) {
			return []connector.Item{{
				Container:  model.Container{Type: "channel", ID: "C042", Name: "general"},
				Pointer:    "1700000000.000100",
				Text:       "my password is hunter2, card 4111-1111-1111-1111",
				ModifiedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			}}, nil
		}})

		result, err := runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.New).To(Equal(1))

		Expect(events.inserted).To(HaveLen(1))
		event := events.inserted[0]
		Expect(event.Severity).To(Equal(model.SeverityHigh))
		Expect(event.Detections).To(HaveLen(2))
		Expect(event.SnippetRedacted).NotTo(ContainSubstring("hunter2"))
		Expect(event.SnippetRedacted).NotTo(ContainSubstring("4111-1111-1111-1111"))
		Expect(event.SnippetRedacted).To(ContainSubstring("****"))

		// Only the slack-filtered subscription receives the event.
		Expect(bodies).To(HaveLen(1))
		Expect(sigs[0]).To(Equal(webhook.Sign("s3cret", bodies[0])))
		Expect(fpHeaders[0]).To(Equal(event.Fingerprint))
		Expect(strings.Contains(string(bodies[0]), event.Fingerprint)).To(BeTrue())

		Expect(deliveries.created).To(HaveLen(1))
		Expect(deliveries.created[0].Status).To(Equal(model.DeliveryStatusSent))
		Expect(deliveries.created[0].WebhookID).To(Equal(int64(1)))
	})
})
