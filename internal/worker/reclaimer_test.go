package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"brokerdesk.sg/relay/internal/model"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/worker"
)

var _ = Describe("RedisReclaimer", func() {
	var (
		ctx       context.Context
		client    *redis.Client
		consumer  *queue.RedisConsumer
		producer  queue.Producer
		mu        sync.Mutex
		handled   []queue.Message
		reclaimer *worker.RedisReclaimer
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr := miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		var err error
		consumer, err = queue.NewRedisConsumer(client, queue.ConsumerConfig{
			Stream:    "replies",
			Group:     "workers",
			Consumer:  "worker-1",
			DLQStream: "replies:dlq",
			Block:     10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		producer = queue.NewRedisProducer(client, "replies", nil)

		handled = nil
		reclaimer = worker.NewRedisReclaimer(client, worker.RedisReclaimerConfig{
			Streams:  consumer.Streams(),
			Group:    consumer.Group(),
			Consumer: "worker-2",
		}, consumer, func(ctx context.Context, msg queue.Message) {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg)
			Expect(consumer.Ack(ctx, msg)).To(Succeed())
		})
	})

	AfterEach(func() {
		_ = client.Close()
	})

	It("claims unacked messages from every priority stream", func() {
		Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 1, ConversationID: 10, Priority: model.PriorityHigh, Attempt: 1})).To(Succeed())
		Expect(producer.Enqueue(ctx, queue.ReplyTask{JobID: 2, ConversationID: 20, Priority: model.PriorityLow, Attempt: 1})).To(Succeed())

		// worker-1 reads both and dies before acking.
		read := 0
		for read < 2 {
			msgs, err := consumer.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			read += len(msgs)
		}

		n, err := reclaimer.ReclaimOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		jobIDs := []int64{}
		for _, m := range handled {
			jobIDs = append(jobIDs, m.JobID)
		}
		Expect(jobIDs).To(ConsistOf(int64(1), int64(2)))
		Expect(handled[0].Stream).To(Equal(queue.StreamName("replies", model.PriorityHigh)))

		n, err = reclaimer.ReclaimOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("acks entries it cannot parse", func() {
		stream := queue.StreamName("replies", model.PriorityNormal)
		Expect(client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"junk": "1"}}).Err()).To(Succeed())
		_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    "workers",
			Consumer: "worker-1",
			Streams:  []string{stream, ">"},
			Count:    1,
		}).Result()
		Expect(err).NotTo(HaveOccurred())

		n, err := reclaimer.ReclaimOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(handled).To(BeEmpty())

		pending, err := client.XPending(ctx, stream, "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})

	It("stops on request", func() {
		done := make(chan struct{})
		go func() {
			reclaimer.Run(ctx)
			close(done)
		}()
		reclaimer.Stop()
		Eventually(done).Should(BeClosed())
	})
})
