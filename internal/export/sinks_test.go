package export_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/model"
)

func sampleRecords(n int) []ecs.Record {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]ecs.Record, 0, n)
	for i := 0; i < n; i++ {
		ev := &model.Event{
			Fingerprint: "fp-" + string(rune('a'+i)),
			Platform:    "gitlab",
			Severity:    model.SeverityHigh,
			FoundAt:     base.Add(time.Duration(i) * time.Second),
			Detections:  []model.Detection{{Label: "aws_access_key"}},
		}
		out = append(out, ecs.FromEvent(ev))
	}
	return out
}

var _ = Describe("SplunkSink", func() {
	It("posts HEC envelopes as NDJSON with the collector token", func() {
		var (
			gotAuth string
			gotBody []byte
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotBody, _ = io.ReadAll(r.Body)
		}))
		defer server.Close()

		sink := export.NewSplunkSink(config.SplunkConfig{
			URL:        server.URL,
			Token:      "hec-token",
			Index:      "security",
			SourceType: "sentry:finding",
		})

		Expect(sink.Send(context.Background(), sampleRecords(2))).To(Succeed())
		Expect(gotAuth).To(Equal("Splunk hec-token"))

		scanner := bufio.NewScanner(bytes.NewReader(gotBody))
		var lines int
		for scanner.Scan() {
			lines++
			var env map[string]json.RawMessage
			Expect(json.Unmarshal(scanner.Bytes(), &env)).To(Succeed())
			Expect(env).To(HaveKey("time"))
			Expect(env).To(HaveKey("event"))
			Expect(string(env["index"])).To(Equal(`"security"`))
		}
		Expect(lines).To(Equal(2))
	})

	It("fails without retrying on a 4xx response", func() {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "invalid token", http.StatusForbidden)
		}))
		defer server.Close()

		sink := export.NewSplunkSink(config.SplunkConfig{URL: server.URL, Token: "bad"})

		err := sink.Send(context.Background(), sampleRecords(1))
		Expect(err).To(MatchError(ContainSubstring("403")))
		Expect(calls).To(Equal(1))
	})
})

var _ = Describe("ElasticSink", func() {
	It("sends a bulk body with index actions keyed by fingerprint", func() {
		var gotBody []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"errors":false}`))
		}))
		defer server.Close()

		sink := export.NewElasticSink(config.ElasticConfig{
			URL:   server.URL,
			Index: "sentry-findings",
		})

		Expect(sink.Send(context.Background(), sampleRecords(1))).To(Succeed())

		lines := bytes.Split(bytes.TrimSpace(gotBody), []byte("\n"))
		Expect(lines).To(HaveLen(2))

		var action struct {
			Index struct {
				Index string `json:"_index"`
				ID    string `json:"_id"`
			} `json:"index"`
		}
		Expect(json.Unmarshal(lines[0], &action)).To(Succeed())
		Expect(action.Index.Index).To(Equal("sentry-findings"))
		Expect(action.Index.ID).To(Equal("fp-a"))

		var doc map[string]json.RawMessage
		Expect(json.Unmarshal(lines[1], &doc)).To(Succeed())
		Expect(doc).To(HaveKey("@timestamp"))
	})

	It("treats item-level bulk errors as a failed page", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"errors":true}`))
		}))
		defer server.Close()

		sink := export.NewElasticSink(config.ElasticConfig{URL: server.URL, Index: "x"})

		Expect(sink.Send(context.Background(), sampleRecords(1))).To(HaveOccurred())
	})
})

var _ = Describe("GenericSink", func() {
	It("posts a JSON array with custom headers", func() {
		var (
			gotBody    []byte
			gotHeaders http.Header
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotHeaders = r.Header.Clone()
		}))
		defer server.Close()

		sink := export.NewGenericSink(config.GenericConfig{
			URL:     server.URL,
			Headers: map[string]string{"X-Api-Key": "k"},
		})

		Expect(sink.Send(context.Background(), sampleRecords(2))).To(Succeed())
		Expect(gotHeaders.Get("X-Api-Key")).To(Equal("k"))

		var records []json.RawMessage
		Expect(json.Unmarshal(gotBody, &records)).To(Succeed())
		Expect(records).To(HaveLen(2))
	})

	It("posts NDJSON when configured", func() {
		var gotBody []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
		}))
		defer server.Close()

		sink := export.NewGenericSink(config.GenericConfig{URL: server.URL, NDJSON: true})

		Expect(sink.Send(context.Background(), sampleRecords(2))).To(Succeed())
		Expect(bytes.Split(bytes.TrimSpace(gotBody), []byte("\n"))).To(HaveLen(2))
	})
})
