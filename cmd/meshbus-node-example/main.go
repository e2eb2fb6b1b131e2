// Command meshbus-node-example wires a publisher and a subscriber for the
// same topic on a single process against a running mediator, and is the
// runnable demonstration of the basic pub/sub scenario.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/meshbus/meshbus-go/internal/cmdutil"
	"github.com/meshbus/meshbus-go/node"
)

// chatMessage is the example message type: a plain struct implementing
// meshmsg.Message via ToJSON/SetFromJSON.
type chatMessage struct {
	Text string
	Seq  int64
}

func (m *chatMessage) ToJSON() any {
	return map[string]any{"text": m.Text, "seq": m.Seq}
}

func (m *chatMessage) SetFromJSON(doc map[string]any) error {
	s, _ := doc["text"].(string)
	m.Text = s
	switch v := doc["seq"].(type) {
	case int64:
		m.Seq = v
	case int32:
		m.Seq = int64(v)
	case float64:
		m.Seq = int64(v)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	mediatorAddr := cmdutil.EnvString("MESHBUS_MEDIATOR_ADDR", "127.0.0.1:13330")
	topic := cmdutil.EnvString("MESHBUS_EXAMPLE_TOPIC", "chat")
	nodeName := cmdutil.EnvString("MESHBUS_EXAMPLE_NODE_NAME", "node-example")
	publishInterval, err := cmdutil.EnvDuration("MESHBUS_EXAMPLE_PUBLISH_INTERVAL", time.Second)
	if err != nil {
		fmt.Fprintf(stderr, "invalid MESHBUS_EXAMPLE_PUBLISH_INTERVAL: %v\n", err)
		return 2
	}
	verbose, err := cmdutil.EnvBool("MESHBUS_EXAMPLE_VERBOSE", false)
	if err != nil {
		fmt.Fprintf(stderr, "invalid MESHBUS_EXAMPLE_VERBOSE: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("meshbus-node-example", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&mediatorAddr, "mediator", mediatorAddr, "mediator host:port (env: MESHBUS_MEDIATOR_ADDR)")
	fs.StringVar(&topic, "topic", topic, "topic name (env: MESHBUS_EXAMPLE_TOPIC)")
	fs.StringVar(&nodeName, "name", nodeName, "node name reported to the mediator (env: MESHBUS_EXAMPLE_NODE_NAME)")
	fs.DurationVar(&publishInterval, "interval", publishInterval, "publish interval (env: MESHBUS_EXAMPLE_PUBLISH_INTERVAL)")
	fs.BoolVar(&verbose, "v", verbose, "add microseconds to log timestamps; no extra debug output (env: MESHBUS_EXAMPLE_VERBOSE)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	logger := log.New(stderr, "", log.LstdFlags)
	if verbose {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	n, err := node.New(node.WithMediatorAddr(mediatorAddr), node.WithNodeName(nodeName))
	if err != nil {
		fmt.Fprintf(stderr, "connect to mediator: %v\n", err)
		return 1
	}

	var received atomic.Int64
	sub, err := node.CreateSubscriber[chatMessage, *chatMessage](n, topic, 16, func(m *chatMessage) {
		received.Add(1)
		fmt.Fprintf(stdout, "received seq=%d text=%q\n", m.Seq, m.Text)
	})
	if err != nil {
		fmt.Fprintf(stderr, "create subscriber: %v\n", err)
		return 1
	}
	sub.Spin()

	pub, err := node.CreatePublisher[chatMessage, *chatMessage](n, topic)
	if err != nil {
		fmt.Fprintf(stderr, "create publisher: %v\n", err)
		return 1
	}

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ticker.C:
			seq++
			if err := pub.Publish(&chatMessage{Text: "hello", Seq: seq}); err != nil {
				logger.Printf("publish failed: %v", err)
			}
		case <-sig:
			logger.Printf("shutting down after %d messages received", received.Load())
			_ = pub.Close()
			_ = sub.Close()
			n.Disconnect()
			return 0
		}
	}
}
