package mediator

import (
	"testing"

	"github.com/meshbus/meshbus-go/meshmetrics"
)

func TestAddPublisherThenAddSubscriberSeesEndpoint(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)

	pub := NodeURI("http://127.0.0.1:1")
	sub := NodeURI("http://127.0.0.1:2")
	r.registerNode(pub, nil)
	r.registerNode(sub, nil)

	r.addPublisher(pub, "t", AddressPort{Host: "127.0.0.1", Port: 9000})

	addrs, ports := r.addSubscriber(sub, "t")
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" || len(ports) != 1 || ports[0] != 9000 {
		t.Fatalf("expected one matching publisher endpoint, got addrs=%v ports=%v", addrs, ports)
	}
}

func TestAddSubscriberBeforePublisherSeesNoEndpointsYet(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)

	sub := NodeURI("http://127.0.0.1:2")
	r.registerNode(sub, nil)

	addrs, ports := r.addSubscriber(sub, "t")
	if len(addrs) != 0 || len(ports) != 0 {
		t.Fatalf("expected no publisher endpoints yet, got addrs=%v ports=%v", addrs, ports)
	}
}

func TestInvariantsHoldAfterAddAndRemove(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)

	pub := NodeURI("http://127.0.0.1:1")
	r.registerNode(pub, nil)
	r.addPublisher(pub, "t", AddressPort{Host: "127.0.0.1", Port: 9000})

	assertInvariant1(t, r, pub, "t", true)

	r.removePublisher(pub, "t")
	assertInvariant1(t, r, pub, "t", false)
}

func assertInvariant1(t *testing.T, r *registry, uri NodeURI, topic string, wantPresent bool) {
	t.Helper()
	r.nodeMu.Lock()
	_, inEndpoints := r.nodes[uri].publisherEndpoints[topic]
	r.nodeMu.Unlock()

	r.topicMu.Lock()
	_, inTopic := r.topics[topic].publishingNodes[uri]
	r.topicMu.Unlock()

	if inEndpoints != wantPresent || inTopic != wantPresent {
		t.Fatalf("invariant 1 violated: inEndpoints=%v inTopic=%v want=%v", inEndpoints, inTopic, wantPresent)
	}
}

func TestRemoveNodeClearsAllTopicMemberships(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)

	node := NodeURI("http://127.0.0.1:1")
	r.registerNode(node, nil)
	r.addPublisher(node, "t1", AddressPort{Host: "127.0.0.1", Port: 9000})
	r.addSubscriber(node, "t2")

	r.removeNode(node)

	r.topicMu.Lock()
	_, inT1 := r.topics["t1"].publishingNodes[node]
	_, inT2 := r.topics["t2"].subscribingNodes[node]
	r.topicMu.Unlock()
	if inT1 || inT2 {
		t.Fatalf("expected node removed from all topic sets, t1=%v t2=%v", inT1, inT2)
	}

	r.nodeMu.Lock()
	_, stillPresent := r.nodes[node]
	r.nodeMu.Unlock()
	if stillPresent {
		t.Fatal("expected node entry erased")
	}
}

func TestRemoveNodeOnUnknownURIIsNoOp(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)
	r.removeNode(NodeURI("http://127.0.0.1:9999")) // must not panic
}

func TestStatsReflectsNodeAndTopicCounts(t *testing.T) {
	r := newRegistry(meshmetrics.Noop)
	r.registerNode(NodeURI("http://127.0.0.1:1"), nil)
	r.registerNode(NodeURI("http://127.0.0.1:2"), nil)
	r.addPublisher(NodeURI("http://127.0.0.1:1"), "t", AddressPort{Host: "127.0.0.1", Port: 1})

	stats := r.stats()
	if stats.NodeCount != 2 || stats.TopicCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
