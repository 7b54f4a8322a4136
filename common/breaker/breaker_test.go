package breaker_test

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/common/breaker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type transition struct{ from, to breaker.State }

var errBoom = errors.New("boom")

var _ = Describe("Breaker", func() {
	var (
		clock       *fakeClock
		b           *breaker.Breaker
		calls       int
		transitions []transition
	)

	fail := func() error { calls++; return errBoom }
	succeed := func() error { calls++; return nil }

	tripIt := func() {
		for range 3 {
			Expect(b.Do(fail)).To(MatchError(errBoom))
		}
	}

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
		calls = 0
		transitions = nil
		b = breaker.New(breaker.Settings{
			Name:             "chatwoot",
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			MonitoringWindow: 5 * time.Minute,
			Now:              clock.Now,
			OnStateChange: func(_ string, from, to breaker.State) {
				transitions = append(transitions, transition{from, to})
			},
		})
	})

	It("starts closed and passes calls through", func() {
		Expect(b.State()).To(Equal(breaker.StateClosed))
		Expect(b.Do(succeed)).To(Succeed())
		Expect(calls).To(Equal(1))
	})

	It("opens after the threshold and rejects without calling", func() {
		tripIt()
		Expect(b.State()).To(Equal(breaker.StateOpen))
		Expect(calls).To(Equal(3))

		err := b.Do(succeed)
		Expect(err).To(MatchError(breaker.ErrOpen))
		Expect(calls).To(Equal(3))
		Expect(transitions).To(Equal([]transition{{breaker.StateClosed, breaker.StateOpen}}))
	})

	It("keeps rejecting until the reset timeout passes", func() {
		tripIt()
		clock.Advance(59 * time.Second)
		Expect(b.Do(succeed)).To(MatchError(breaker.ErrOpen))
		Expect(calls).To(Equal(3))
	})

	It("closes after a successful trial and zeroes the failure count", func() {
		tripIt()
		clock.Advance(time.Minute)

		Expect(b.Do(succeed)).To(Succeed())
		Expect(calls).To(Equal(4))
		snap := b.Snapshot()
		Expect(snap.State).To(Equal(breaker.StateClosed))
		Expect(snap.FailureCount).To(BeZero())
		Expect(transitions).To(Equal([]transition{
			{breaker.StateClosed, breaker.StateOpen},
			{breaker.StateOpen, breaker.StateHalfOpen},
			{breaker.StateHalfOpen, breaker.StateClosed},
		}))
	})

	It("reopens with a fresh window when the trial fails", func() {
		tripIt()
		clock.Advance(time.Minute)

		Expect(b.Do(fail)).To(MatchError(errBoom))
		snap := b.Snapshot()
		Expect(snap.State).To(Equal(breaker.StateOpen))
		Expect(snap.NextAttempt).To(Equal(clock.Now().Add(time.Minute)))

		clock.Advance(30 * time.Second)
		Expect(b.Do(succeed)).To(MatchError(breaker.ErrOpen))
	})

	It("lets exactly one trial through while half open", func() {
		tripIt()
		clock.Advance(time.Minute)

		release := make(chan struct{})
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- b.Do(func() error {
				close(started)
				<-release
				return nil
			})
		}()
		Eventually(started).Should(BeClosed())

		Expect(b.State()).To(Equal(breaker.StateHalfOpen))
		Expect(b.Do(succeed)).To(MatchError(breaker.ErrOpen))

		close(release)
		Eventually(done).Should(Receive(BeNil()))
		Expect(b.State()).To(Equal(breaker.StateClosed))
	})

	It("ignores a slow call admitted before the circuit tripped", func() {
		release := make(chan struct{})
		started := make(chan struct{})
		slow := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			slow <- b.Do(func() error {
				close(started)
				<-release
				return nil
			})
		}()
		Eventually(started).Should(BeClosed())

		tripIt()
		clock.Advance(time.Minute)

		trialRelease := make(chan struct{})
		trialStarted := make(chan struct{})
		trial := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			trial <- b.Do(func() error {
				close(trialStarted)
				<-trialRelease
				return errBoom
			})
		}()
		Eventually(trialStarted).Should(BeClosed())

		close(release)
		Eventually(slow).Should(Receive(BeNil()))
		Expect(b.State()).To(Equal(breaker.StateHalfOpen))
		Expect(b.Do(succeed)).To(MatchError(breaker.ErrOpen))

		close(trialRelease)
		Eventually(trial).Should(Receive(MatchError(errBoom)))
		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("forgets sparse failures outside the monitoring window", func() {
		Expect(b.Do(fail)).To(HaveOccurred())
		Expect(b.Do(fail)).To(HaveOccurred())
		clock.Advance(6 * time.Minute)

		Expect(b.Do(succeed)).To(Succeed())
		Expect(b.Snapshot().FailureCount).To(BeZero())

		Expect(b.Do(fail)).To(HaveOccurred())
		Expect(b.Do(fail)).To(HaveOccurred())
		Expect(b.State()).To(Equal(breaker.StateClosed))
	})

	It("does not reset the count for successes inside the window", func() {
		Expect(b.Do(fail)).To(HaveOccurred())
		Expect(b.Do(fail)).To(HaveOccurred())
		clock.Advance(time.Minute)
		Expect(b.Do(succeed)).To(Succeed())
		Expect(b.Do(fail)).To(HaveOccurred())
		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("counts a panic as a failure and re-panics", func() {
		tripIt()
		clock.Advance(time.Minute)

		Expect(func() {
			_ = b.Do(func() error { panic("kaboom") })
		}).To(PanicWith("kaboom"))
		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("returns values through Execute", func() {
		v, err := breaker.Execute(b, func() (int, error) { return 7, nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))

		tripIt()
		v, err = breaker.Execute(b, func() (int, error) { return 9, nil })
		Expect(err).To(MatchError(breaker.ErrOpen))
		Expect(v).To(BeZero())
	})

	It("can be reset by hand", func() {
		tripIt()
		b.Reset()
		Expect(b.State()).To(Equal(breaker.StateClosed))
		Expect(b.Do(succeed)).To(Succeed())
	})

	It("ignores errors the classifier does not count", func() {
		errBadRequest := errors.New("bad request")
		b = breaker.New(breaker.Settings{
			FailureThreshold: 1,
			IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, errBadRequest) },
		})

		Expect(b.Do(func() error { return errBadRequest })).To(MatchError(errBadRequest))
		Expect(b.State()).To(Equal(breaker.StateClosed))

		Expect(b.Do(fail)).To(MatchError(errBoom))
		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("builds a user-facing fallback message", func() {
		Expect(breaker.FallbackResponse("+65 6123 4567")).To(ContainSubstring("+65 6123 4567"))
		Expect(breaker.FallbackResponse("")).To(ContainSubstring(breaker.DefaultSupportPhone))
	})
})
