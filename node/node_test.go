package node_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meshbus/meshbus-go/mediator"
	"github.com/meshbus/meshbus-go/meshmetrics"
	"github.com/meshbus/meshbus-go/node"
)

type chatMessage struct {
	Text string
}

func (m *chatMessage) ToJSON() any {
	return map[string]any{"text": m.Text}
}

func (m *chatMessage) SetFromJSON(doc map[string]any) error {
	s, _ := doc["text"].(string)
	m.Text = s
	return nil
}

func startMediator(t *testing.T) *mediator.Server {
	t.Helper()
	srv, err := mediator.New(mediator.Config{
		BindAddr:      "127.0.0.1",
		BindPort:      0,
		AcceptBacklog: 8,
		AcceptIdle:    5 * time.Millisecond,
		Observer:      meshmetrics.Noop,
	})
	if err != nil {
		t.Fatalf("start mediator: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCreatePublisherThenCreateSubscriberReceivesMessage(t *testing.T) {
	srv := startMediator(t)

	pubNode, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName("publisher-node"))
	if err != nil {
		t.Fatalf("new publisher node: %v", err)
	}
	defer pubNode.Disconnect()

	pub, err := node.CreatePublisher[chatMessage, *chatMessage](pubNode, "chat")
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer pub.Close()

	subNode, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName("subscriber-node"))
	if err != nil {
		t.Fatalf("new subscriber node: %v", err)
	}
	defer subNode.Disconnect()

	var mu sync.Mutex
	var received []string
	sub, err := node.CreateSubscriber[chatMessage, *chatMessage](subNode, "chat", 8, func(m *chatMessage) {
		mu.Lock()
		received = append(received, m.Text)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	defer sub.Close()
	sub.Spin()

	waitFor(t, 2*time.Second, func() bool {
		return len(pub.Topic()) > 0
	})

	if err := pub.Publish(&chatMessage{Text: "hello"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "hello"
	})
}

func TestSubscriberCreatedBeforePublisherIsNotifiedViaCallback(t *testing.T) {
	srv := startMediator(t)

	subNode, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName("early-subscriber"))
	if err != nil {
		t.Fatalf("new subscriber node: %v", err)
	}
	defer subNode.Disconnect()

	var mu sync.Mutex
	var received []string
	sub, err := node.CreateSubscriber[chatMessage, *chatMessage](subNode, "late-topic", 8, func(m *chatMessage) {
		mu.Lock()
		received = append(received, m.Text)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	defer sub.Close()
	sub.Spin()

	pubNode, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName("late-publisher"))
	if err != nil {
		t.Fatalf("new publisher node: %v", err)
	}
	defer pubNode.Disconnect()

	pub, err := node.CreatePublisher[chatMessage, *chatMessage](pubNode, "late-topic")
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer pub.Close()

	waitFor(t, 2*time.Second, func() bool {
		return srv.Stats().TopicCount >= 1
	})

	publishUntilDelivered := func() bool {
		_ = pub.Publish(&chatMessage{Text: "late"})
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}
	waitFor(t, 3*time.Second, publishUntilDelivered)
}

func TestCreatePublisherTwiceForSameTopicFails(t *testing.T) {
	srv := startMediator(t)

	n, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName("dup"))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Disconnect()

	pub, err := node.CreatePublisher[chatMessage, *chatMessage](n, "dup-topic")
	if err != nil {
		t.Fatalf("first create publisher: %v", err)
	}
	defer pub.Close()

	if _, err := node.CreatePublisher[chatMessage, *chatMessage](n, "dup-topic"); err == nil {
		t.Fatal("expected error on duplicate topic publisher")
	}
}

func TestDisconnectIsIdempotentAndUnblocksSpin(t *testing.T) {
	srv := startMediator(t)

	n, err := node.New(node.WithMediatorAddr(srv.Addr()), node.WithNodeName(fmt.Sprintf("spinner-%d", 1)))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	done := make(chan struct{})
	go func() {
		n.Spin()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	n.Disconnect()
	n.Disconnect() // idempotent

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Spin did not return after Disconnect")
	}
}
