package shmemserver

import (
	"testing"
	"time"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

func frame(id uint32) *wire.CANDataFrame {
	f := wire.NewCANDataFrame()
	f.SetMessageID(id)
	f.SetData([]byte{5, 5})
	return f
}

func TestServerToClientAndBack(t *testing.T) {
	name := "buslib-test-txrx"

	server := NewServerSide(WithName(name), WithBufferSize(4096))
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	client := NewClientSide(WithName(name), WithBufferSize(4096))
	if err := client.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	serverPub := server.CreatePublisher()
	clientSub := client.CreateSubscriber()

	clientPub := client.CreatePublisher()
	serverSub := server.CreateSubscriber()

	const n = 300
	go func() {
		for i := 0; i < n; i++ {
			serverPub.Push(frame(uint32(i)))
		}
	}()
	go func() {
		for i := 0; i < n; i++ {
			clientPub.Push(frame(uint32(1000 + i)))
		}
	}()

	deadline := time.Now().Add(10 * time.Second)

	gotFromServer := 0
	for gotFromServer < n && time.Now().Before(deadline) {
		if msg := clientSub.PopWait(100 * time.Millisecond); msg != nil {
			gotFromServer++
		}
	}
	if gotFromServer != n {
		t.Fatalf("client subscriber got %d, want %d", gotFromServer, n)
	}

	gotFromClient := 0
	for gotFromClient < n && time.Now().Before(deadline) {
		if msg := serverSub.PopWait(100 * time.Millisecond); msg != nil {
			gotFromClient++
		}
	}
	if gotFromClient != n {
		t.Fatalf("server subscriber got %d, want %d", gotFromClient, n)
	}
}

// TestNofPublishersSubscribersNotRegistered asserts spec §4.G's registry
// carve-out for both server and client sides: neither counts its own
// publisher/subscriber queues.
func TestNofPublishersSubscribersNotRegistered(t *testing.T) {
	name := "buslib-test-txrx-registry"

	server := NewServerSide(WithName(name), WithBufferSize(4096))
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	client := NewClientSide(WithName(name), WithBufferSize(4096))
	if err := client.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	serverPub := server.CreatePublisher()
	serverSub := server.CreateSubscriber()
	clientPub := client.CreatePublisher()
	clientSub := client.CreateSubscriber()

	if n := server.NofPublishers(); n != 0 {
		t.Fatalf("server.NofPublishers() = %d, want 0", n)
	}
	if n := server.NofSubscribers(); n != 0 {
		t.Fatalf("server.NofSubscribers() = %d, want 0", n)
	}
	if n := client.NofPublishers(); n != 0 {
		t.Fatalf("client.NofPublishers() = %d, want 0", n)
	}
	if n := client.NofSubscribers(); n != 0 {
		t.Fatalf("client.NofSubscribers() = %d, want 0", n)
	}

	server.DetachPublisher(serverPub)
	server.DetachSubscriber(serverSub)
	client.DetachPublisher(clientPub)
	client.DetachSubscriber(clientSub)

	if n := server.NofPublishers(); n != 0 {
		t.Fatalf("server.NofPublishers() after detach = %d, want 0", n)
	}
	if n := client.NofSubscribers(); n != 0 {
		t.Fatalf("client.NofSubscribers() after detach = %d, want 0", n)
	}
}
