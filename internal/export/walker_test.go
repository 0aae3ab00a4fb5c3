package export_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

func eventsAt(times ...time.Time) []model.Event {
	out := make([]model.Event, 0, len(times))
	for i, ts := range times {
		out = append(out, model.Event{
			Fingerprint: "fp-" + string(rune('a'+i)),
			Platform:    "gitlab",
			Severity:    model.SeverityMedium,
			FoundAt:     ts,
			Detections:  []model.Detection{{Label: "jwt"}},
		})
	}
	return out
}

var _ = Describe("Walker", func() {
	var (
		ctx     context.Context
		events  *mockEventStore
		cursors *mockCursorStore
		sink    *mockSIEMSink
		base    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		events = &mockEventStore{}
		cursors = &mockCursorStore{}
		sink = &mockSIEMSink{key: "splunk"}
		base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	})

	It("walks a single short page and persists the cursor once", func() {
		page := eventsAt(base, base.Add(time.Second))
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			if cursor == nil {
				return page, nil
			}
			return nil, nil
		}

		walker := export.NewWalker(events, cursors, 500, nil, nil)
		summary, err := walker.Run(ctx, sink)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Pages).To(Equal(1))
		Expect(summary.Sent).To(Equal(2))
		Expect(sink.pages).To(HaveLen(1))

		Expect(cursors.sets).To(HaveLen(1))
		Expect(cursors.sets[0].dest).To(Equal("splunk"))
		Expect(cursors.sets[0].prev).To(BeEmpty())
		Expect(cursors.sets[0].value).To(Equal(base.Add(time.Second).Format(time.RFC3339Nano)))
	})

	It("pages until the store runs dry, advancing the cursor per page", func() {
		all := eventsAt(base, base.Add(time.Second), base.Add(2*time.Second))
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			var out []model.Event
			for _, ev := range all {
				if cursor == nil || ev.FoundAt.After(*cursor) {
					out = append(out, ev)
				}
				if int32(len(out)) == limit {
					break
				}
			}
			return out, nil
		}

		walker := export.NewWalker(events, cursors, 2, nil, nil)
		summary, err := walker.Run(ctx, sink)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Pages).To(Equal(2))
		Expect(summary.Sent).To(Equal(3))

		Expect(cursors.sets).To(HaveLen(2))
		Expect(cursors.sets[0].prev).To(BeEmpty())
		Expect(cursors.sets[1].prev).To(Equal(cursors.sets[0].value))
		Expect(summary.Cursor).To(Equal(cursors.sets[1].value))
	})

	It("leaves the cursor untouched when the sink rejects a page", func() {
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			return eventsAt(base), nil
		}
		failing := &mockSIEMSink{key: "splunk", sendFn: func(context.Context, []ecs.Record) error {
			return errors.New("hec unavailable")
		}}

		walker := export.NewWalker(events, cursors, 500, nil, nil)
		summary, err := walker.Run(ctx, failing)

		Expect(err).To(MatchError(ContainSubstring("hec unavailable")))
		Expect(summary.Pages).To(BeZero())
		Expect(cursors.sets).To(BeEmpty())
	})

	It("resumes from a stored cursor", func() {
		stored := base.Add(time.Minute)
		cursors.getFn = func(ctx context.Context, dest string) (*model.Cursor, error) {
			return &model.Cursor{DestinationKey: dest, Value: stored.Format(time.RFC3339Nano)}, nil
		}

		var gotCursor *time.Time
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			gotCursor = cursor
			return nil, nil
		}

		walker := export.NewWalker(events, cursors, 500, nil, nil)
		_, err := walker.Run(ctx, sink)

		Expect(err).NotTo(HaveOccurred())
		Expect(gotCursor).NotTo(BeNil())
		Expect(gotCursor.Equal(stored)).To(BeTrue())
	})

	It("restarts from the beginning on an unparseable cursor, keeping prev for the conditional update", func() {
		cursors.getFn = func(ctx context.Context, dest string) (*model.Cursor, error) {
			return &model.Cursor{DestinationKey: dest, Value: "garbage"}, nil
		}
		page := eventsAt(base)
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			if cursor == nil {
				return page, nil
			}
			return nil, nil
		}

		walker := export.NewWalker(events, cursors, 500, nil, nil)
		summary, err := walker.Run(ctx, sink)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Pages).To(Equal(1))
		Expect(cursors.sets).To(HaveLen(1))
		Expect(cursors.sets[0].prev).To(Equal("garbage"))
	})

	It("surfaces a conflicting concurrent walker as an error", func() {
		events.listAfterFn = func(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
			if cursor == nil {
				return eventsAt(base), nil
			}
			return nil, nil
		}
		cursors.setFn = func(ctx context.Context, dest, value, prev string) error {
			return store.ErrCursorConflict
		}

		walker := export.NewWalker(events, cursors, 500, nil, nil)
		_, err := walker.Run(ctx, sink)

		Expect(err).To(MatchError(store.ErrCursorConflict))
	})
})
