package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEvents(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Events Suite")
}

var _ = Describe("EventBus", func() {
	var bus *events.EventBus

	BeforeEach(func() {
		bus = events.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("should deliver published events to every handler of the type", func() {
		var (
			mu  sync.Mutex
			got []string
		)
		record := func(name string) events.Handler {
			return func(ctx context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, name+":"+e.EventType())
				return nil
			}
		}
		bus.Subscribe(events.EventTypeSessionCleared, record("a"))
		bus.Subscribe(events.EventTypeSessionCleared, record("b"))
		bus.Subscribe(events.EventTypeAccessDenied, record("c"))

		Expect(bus.Publish(context.Background(), events.NewSessionClearedEvent("u-1", "shift_stale"))).To(Succeed())
		bus.Wait()

		Expect(got).To(ConsistOf("a:session.cleared", "b:session.cleared"))
	})

	It("should keep running handlers after the publisher's context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		var seen error
		bus.Subscribe(events.EventTypeTokenRenewed, func(hctx context.Context, e events.Event) error {
			seen = hctx.Err()
			return nil
		})

		Expect(bus.Publish(ctx, events.NewTokenRenewedEvent("u-1", time.Now()))).To(Succeed())
		cancel()
		bus.Wait()

		Expect(seen).NotTo(HaveOccurred())
	})

	It("should stop at the first failing handler when synchronous", func() {
		calls := 0
		bus.SubscribeAll(func(ctx context.Context, e events.Event) error {
			calls++
			return errors.New("boom")
		}, events.EventTypeAccessDenied)
		bus.Subscribe(events.EventTypeAccessDenied, func(ctx context.Context, e events.Event) error {
			calls++
			return nil
		})

		err := bus.PublishSync(context.Background(), events.NewAccessDeniedEvent("u-1", "role-mismatch", "/owner"))
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("should ignore events nobody listens to", func() {
		Expect(bus.Publish(context.Background(), events.NewSessionResynchronizedEvent("authToken", "view-2"))).To(Succeed())
		Expect(bus.PublishSync(context.Background(), events.NewSessionResynchronizedEvent("authToken", "view-2"))).To(Succeed())
	})

	It("should carry structured payloads", func() {
		e := events.NewVerificationDegradedEvent("u-1", "s1", errors.New("timeout"))
		Expect(e.Payload()).To(HaveKeyWithValue("error", "timeout"))
		Expect(e.EventID()).NotTo(BeEmpty())
	})
})
