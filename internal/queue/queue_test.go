package queue_test

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
)

var _ = Describe("Redis streams", func() {
	var (
		ctx      context.Context
		mr       *miniredis.Miniredis
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		producer = queue.NewRedisProducer(client, "replies", nil)

		var err error
		consumer, err = queue.NewRedisConsumer(client, queue.ConsumerConfig{
			Stream:    "replies",
			Group:     "workers",
			Consumer:  "worker-1",
			DLQStream: "replies:dlq",
			BatchSize: 10,
			Block:     50 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = client.Close()
	})

	Describe("StreamName", func() {
		It("derives one stream per priority", func() {
			Expect(queue.StreamName("replies", model.PriorityHigh)).To(Equal("replies:p10"))
			Expect(queue.StreamNames("replies")).To(Equal([]string{"replies:p10", "replies:p5", "replies:p1"}))
		})
	})

	Describe("NewRedisConsumer", func() {
		It("tolerates existing groups", func() {
			_, err := queue.NewRedisConsumer(client, queue.ConsumerConfig{
				Stream:   "replies",
				Group:    "workers",
				Consumer: "worker-2",
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Read", func() {
		It("returns an empty batch when nothing is queued", func() {
			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(BeEmpty())
		})

		It("round-trips task fields", func() {
			trace := "trace-abc"
			Expect(producer.Enqueue(ctx, queue.ReplyTask{
				JobID:          11,
				ConversationID: 22,
				Priority:       model.PriorityNormal,
				TraceID:        &trace,
			})).To(Succeed())

			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].JobID).To(Equal(int64(11)))
			Expect(msgs[0].ConversationID).To(Equal(int64(22)))
			Expect(msgs[0].Priority).To(Equal(model.PriorityNormal))
			Expect(msgs[0].Attempt).To(Equal(1))
			Expect(msgs[0].TraceID).To(Equal("trace-abc"))
			Expect(msgs[0].Stream).To(Equal("replies:p5"))
		})

		It("serves higher priorities first and keeps FIFO within a class", func() {
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 1, ConversationID: 1, Priority: model.PriorityLow})).To(Succeed())
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 2, ConversationID: 2, Priority: model.PriorityNormal})).To(Succeed())
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 3, ConversationID: 3, Priority: model.PriorityHigh})).To(Succeed())
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 4, ConversationID: 4, Priority: model.PriorityHigh})).To(Succeed())

			var order []int64
			for range 3 {
				msgs, err := consumer.Read(ctx)
				Expect(err).NotTo(HaveOccurred())
				for _, m := range msgs {
					order = append(order, m.JobID)
					Expect(consumer.Ack(ctx, m)).To(Succeed())
				}
			}
			Expect(order).To(Equal([]int64{3, 4, 2, 1}))
		})

		It("maps an unknown priority to normal", func() {
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 9, ConversationID: 9, Priority: 7})).To(Succeed())

			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Priority).To(Equal(model.PriorityNormal))
		})

		It("acks and skips malformed entries", func() {
			Expect(client.XAdd(ctx, &redis.XAddArgs{
				Stream: "replies:p5",
				Values: map[string]any{"conversation_id": 1},
			}).Err()).To(Succeed())

			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(BeEmpty())

			pending, err := client.XPending(ctx, "replies:p5", "workers").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Count).To(BeZero())
		})
	})

	Describe("Requeue", func() {
		It("acks the original and appends with the next attempt", func() {
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 5, ConversationID: 6, Priority: model.PriorityLow})).To(Succeed())
			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))

			Expect(consumer.Requeue(ctx, msgs[0], "send failed")).To(Succeed())

			again, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(HaveLen(1))
			Expect(again[0].JobID).To(Equal(int64(5)))
			Expect(again[0].Attempt).To(Equal(2))
			Expect(again[0].Stream).To(Equal("replies:p1"))
			Expect(again[0].Raw.Values).To(HaveKeyWithValue("last_error", "send failed"))

			entries, err := client.XRange(ctx, "replies:p1", "-", "+").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("leaves the original pending when the delay is interrupted", func() {
			delayed, err := queue.NewRedisConsumer(client, queue.ConsumerConfig{
				Stream:       "replies",
				Group:        "workers",
				Consumer:     "worker-1",
				DLQStream:    "replies:dlq",
				Block:        50 * time.Millisecond,
				RequeueDelay: time.Second,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 5, ConversationID: 6})).To(Succeed())
			msgs, err := delayed.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))

			shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			err = delayed.Requeue(shortCtx, msgs[0], "send failed")
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

			pending, err := client.XPending(ctx, msgs[0].Stream, "workers").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Count).To(Equal(int64(1)))

			entries, err := client.XRange(ctx, msgs[0].Stream, "-", "+").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		It("keeps the attempt when asked to", func() {
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 5, ConversationID: 6, Attempt: 3})).To(Succeed())
			msgs, _ := consumer.Read(ctx)
			Expect(msgs).To(HaveLen(1))

			Expect(consumer.RequeueWithAttempt(ctx, msgs[0], msgs[0].Attempt, "")).To(Succeed())

			again, _ := consumer.Read(ctx)
			Expect(again).To(HaveLen(1))
			Expect(again[0].Attempt).To(Equal(3))
		})
	})

	Describe("SendDLQ", func() {
		It("moves the entry to the dead letter stream", func() {
			Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 8, ConversationID: 9, Priority: model.PriorityHigh, Attempt: 5})).To(Succeed())
			msgs, _ := consumer.Read(ctx)
			Expect(msgs).To(HaveLen(1))

			Expect(consumer.SendDLQ(ctx, msgs[0], "gave up")).To(Succeed())

			entries, err := client.XRange(ctx, "replies:dlq", "-", "+").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Values).To(HaveKeyWithValue("error", "gave up"))
			Expect(entries[0].Values).To(HaveKeyWithValue("job_id", "8"))
			Expect(entries[0].Values).To(HaveKeyWithValue("source_stream", "replies:p10"))

			pending, err := client.XPending(ctx, "replies:p10", "workers").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Count).To(BeZero())
		})
	})
})
