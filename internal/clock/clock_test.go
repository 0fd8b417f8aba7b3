package clock_test

import (
	"testing"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestClock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Clock Suite")
}

var _ = Describe("Fake clock", func() {
	var (
		start time.Time
		c     *clock.Fake
	)

	BeforeEach(func() {
		start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		c = clock.NewFake(start)
	})

	It("should fire timers only once their deadline is reached", func() {
		fired := 0
		c.AfterFunc(time.Minute, func() { fired++ })

		c.Advance(59 * time.Second)
		Expect(fired).To(Equal(0))

		c.Advance(time.Second)
		Expect(fired).To(Equal(1))
		Expect(c.Pending()).To(Equal(0))
	})

	It("should fire zero-delay timers on the next advance", func() {
		fired := false
		c.AfterFunc(0, func() { fired = true })

		c.Advance(0)
		Expect(fired).To(BeTrue())
	})

	It("should not fire stopped timers", func() {
		fired := false
		t := c.AfterFunc(time.Second, func() { fired = true })

		Expect(t.Stop()).To(BeTrue())
		Expect(t.Stop()).To(BeFalse())

		c.Advance(time.Hour)
		Expect(fired).To(BeFalse())
	})

	It("should run due timers in deadline order and allow re-arming", func() {
		var order []string
		c.AfterFunc(2*time.Second, func() { order = append(order, "second") })
		c.AfterFunc(time.Second, func() {
			order = append(order, "first")
			c.AfterFunc(0, func() { order = append(order, "rearmed") })
		})

		c.Advance(3 * time.Second)
		Expect(order).To(Equal([]string{"first", "second", "rearmed"}))
	})

	It("should report the earliest deadline", func() {
		_, ok := c.NextDeadline()
		Expect(ok).To(BeFalse())

		c.AfterFunc(time.Hour, func() {})
		c.AfterFunc(time.Minute, func() {})

		next, ok := c.NextDeadline()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(start.Add(time.Minute)))
	})
})
