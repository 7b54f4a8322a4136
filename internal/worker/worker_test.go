package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *mockConsumer
		processor *mockProcessor
		w         *worker.Worker
		msg       queue.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		processor = &mockProcessor{}
		w = worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
		msg = queue.Message{ID: "1-0", Stream: "replies:p5", JobID: 11, ConversationID: 42, Attempt: 1}
	})

	Describe("ProcessMessage", func() {
		It("acks a processed message", func() {
			w.ProcessMessage(ctx, msg)

			Expect(consumer.acked).To(ConsistOf(msg))
			Expect(consumer.requeues).To(BeEmpty())
		})

		It("requeues a busy conversation without spending an attempt", func() {
			processor.processFn = func(context.Context, queue.Message) error {
				return worker.ErrConversationBusy
			}
			msg.Attempt = 2

			w.ProcessMessage(ctx, msg)

			Expect(consumer.requeues).To(HaveLen(1))
			Expect(consumer.requeues[0].attempt).To(Equal(2))
			Expect(consumer.acked).To(BeEmpty())
		})

		It("requeues a failed message with the next attempt", func() {
			processor.processFn = func(context.Context, queue.Message) error {
				return errors.New("chat down")
			}

			w.ProcessMessage(ctx, msg)

			Expect(consumer.requeues).To(HaveLen(1))
			Expect(consumer.requeues[0].attempt).To(Equal(2))
			Expect(consumer.requeues[0].reason).To(Equal("chat down"))
			Expect(consumer.dlq).To(BeEmpty())
		})

		It("dead-letters and fails the job once attempts run out", func() {
			processor.processFn = func(context.Context, queue.Message) error {
				return errors.New("chat down")
			}
			msg.Attempt = 3

			w.ProcessMessage(ctx, msg)

			Expect(consumer.dlq).To(ConsistOf(msg))
			Expect(consumer.requeues).To(BeEmpty())
			Expect(processor.failed).To(Equal([]int64{11}))
		})

		It("recovers from a panicking processor", func() {
			processor.processFn = func(context.Context, queue.Message) error {
				panic("boom")
			}

			Expect(func() { w.ProcessMessage(ctx, msg) }).NotTo(Panic())
			Expect(consumer.requeues).To(HaveLen(1))
			Expect(consumer.requeues[0].reason).To(ContainSubstring("boom"))
		})
	})

	Describe("Run", func() {
		It("processes batches until stopped", func() {
			second := msg
			second.ID = "2-0"
			consumer.batches = [][]queue.Message{{msg, second}}

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			Eventually(func() int {
				consumer.mu.Lock()
				defer consumer.mu.Unlock()
				return len(consumer.acked)
			}).Should(Equal(2))

			w.Stop()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("returns when the context is cancelled", func() {
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- w.Run(runCtx) }()

			cancel()
			Eventually(done, time.Second).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
