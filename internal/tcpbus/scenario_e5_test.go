package tcpbus

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func e5Frame(id uint32) *wire.CANDataFrame {
	f := wire.NewCANDataFrame()
	f.SetMessageID(id)
	f.SetData([]byte{5, 5})
	return f
}

// TestScenarioE5TCPBrokerOneRemoteClient mirrors the TCP scenario: a
// broker over an in-process host accepts one remote client, exchanges
// 100k frames, and stays connected throughout.
func TestScenarioE5TCPBrokerOneRemoteClient(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping high-volume scenario in -short mode")
	}

	host := broker.New(broker.WithName("e5-host"))
	br := NewBroker(WithHostBroker(host), WithBrokerListenAddr("127.0.0.1", 0), WithBrokerName("e5-broker"))
	if err := br.Start(); err != nil {
		t.Fatalf("broker start: %v", err)
	}
	defer br.Stop()

	client := NewClient(WithServerAddr("127.0.0.1", br.Port()))
	if err := client.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for !client.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !client.IsConnected() {
		t.Fatal("expected client to connect")
	}

	hostSub := host.CreateSubscriber()
	clientPub := client.CreatePublisher()

	const n = 100000
	go func() {
		for i := 0; i < n; i++ {
			clientPub.Push(e5Frame(uint32(i % 2048)))
		}
	}()

	got := 0
	runDeadline := time.Now().Add(60 * time.Second)
	for got < n && time.Now().Before(runDeadline) {
		msg := hostSub.PopWait(100 * time.Millisecond)
		if msg == nil {
			if !client.IsConnected() {
				t.Fatal("client disconnected mid-scenario")
			}
			continue
		}
		got++
	}
	if got != n {
		t.Fatalf("expected %d messages delivered to host, got %d", n, got)
	}
	if !client.IsConnected() {
		t.Fatal("expected client to remain connected throughout")
	}
}
