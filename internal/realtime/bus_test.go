package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"blakv.app/support/internal/realtime"
)

// publishRecorder accepts every publish without a server. Only Publish is
// implemented; any other call panics on the nil embedded client.
type publishRecorder struct {
	redis.UniversalClient

	mu        sync.Mutex
	published []string
}

func (p *publishRecorder) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func unreachableRedis() *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	DeferCleanup(client.Close)
	return client
}

var _ = Describe("RedisBus", func() {
	const node int64 = 7

	It("delivers locally when Redis is unreachable", func() {
		hub := realtime.NewHub(realtime.HubConfig{})
		bus := realtime.NewRedisBus(unreachableRedis(), "support:test", node, hub)
		c := hub.Connect(ptr(int64(1)))

		var deliverer realtime.Deliverer = bus
		deliverer.Deliver(context.Background(), []realtime.Room{realtime.UserRoom(1)}, snapshot(100, 1))

		Expect(received(c)).To(HaveLen(1))
	})

	It("delivers locally when the publish succeeds but nothing is subscribed", func() {
		hub := realtime.NewHub(realtime.HubConfig{})
		client := &publishRecorder{}
		bus := realtime.NewRedisBus(client, "support:test", node, hub)
		c := hub.Connect(ptr(int64(1)))

		bus.Deliver(context.Background(), []realtime.Room{realtime.UserRoom(1)}, snapshot(100, 1))

		Expect(received(c)).To(HaveLen(1))
		Expect(client.published).To(HaveLen(1))

		var msg struct {
			Origin int64           `json:"origin"`
			Rooms  []realtime.Room `json:"rooms"`
		}
		Expect(json.Unmarshal([]byte(client.published[0]), &msg)).To(Succeed())
		Expect(msg.Origin).To(Equal(node))
		Expect(msg.Rooms).To(ConsistOf(realtime.UserRoom(1)))
	})

	It("relays deliveries from other instances and skips its own", func() {
		hub := realtime.NewHub(realtime.HubConfig{})
		client := &publishRecorder{}
		c := hub.Connect(ptr(int64(1)))

		peer := realtime.NewRedisBus(client, "support:test", node+1, realtime.NewHub(realtime.HubConfig{}))
		peer.Deliver(context.Background(), []realtime.Room{realtime.UserRoom(1)}, snapshot(100, 1))
		self := realtime.NewRedisBus(client, "support:test", node, hub)
		self.Deliver(context.Background(), []realtime.Room{realtime.UserRoom(1)}, snapshot(100, 2))
		Expect(received(c)).To(HaveLen(1))

		for _, payload := range client.published {
			self.Relay(context.Background(), payload)
		}

		frames := received(c)
		Expect(frames).To(HaveLen(1))
		t, err := frames[0].DecodeSnapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Version).To(Equal(int64(1)))
	})

	It("ignores malformed bus messages", func() {
		hub := realtime.NewHub(realtime.HubConfig{})
		c := hub.Connect(ptr(int64(1)))
		bus := realtime.NewRedisBus(&publishRecorder{}, "support:test", node, hub)

		Expect(func() { bus.Relay(context.Background(), "{not json") }).NotTo(Panic())
		Expect(received(c)).To(BeEmpty())
	})

	It("keeps retrying the subscription until cancelled", func() {
		bus := realtime.NewRedisBus(unreachableRedis(), "support:test", node, realtime.NewHub(realtime.HubConfig{}))
		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)

		done := make(chan error, 1)
		go func() { done <- bus.Run(ctx) }()

		Consistently(done, 300*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
