package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATSPublisher(t *testing.T) {
	ns := startServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe("transcription.job.>", msgs); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	pub, err := Connect(ns.ClientURL(), "transcription.job.", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pub.Close()

	pub.Publish(Event{JobID: "abc", Stage: "diarize", State: StateFailed, Kind: "diarization_failed"})

	select {
	case msg := <-msgs:
		if msg.Subject != "transcription.job.abc.diarize" {
			t.Fatalf("unexpected subject %q", msg.Subject)
		}
		var got Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.State != StateFailed || got.Kind != "diarization_failed" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be filled in")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConnectFails(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "x", zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected connection error")
	}
}
