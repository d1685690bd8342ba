package broker

import (
	"testing"
	"time"
)

// TestScenarioE1SingleProducerConsumerHighVolume mirrors the high-volume
// single-producer/single-consumer scenario: 100k messages, in-process,
// queue cap disabled, every message reaches the subscriber.
func TestScenarioE1SingleProducerConsumerHighVolume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping high-volume scenario in -short mode")
	}
	b := New(WithName("e1"), WithMaxQueueDepth(0))
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	pub := b.CreatePublisher()
	sub := b.CreateSubscriber()

	const n = 100000
	go func() {
		for i := 0; i < n; i++ {
			pub.Push(sampleFrame(uint32(i % 2048)))
		}
	}()

	deadline := time.Now().Add(30 * time.Second)
	for got := 0; got < n; {
		msg := sub.PopWait(50 * time.Millisecond)
		if msg == nil {
			if time.Now().After(deadline) {
				t.Fatalf("timed out after delivering %d/%d messages", got, n)
			}
			continue
		}
		got++
	}
}
