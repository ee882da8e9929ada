package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ky13/synm/internal/logging"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSPublisher_DeliversRecords(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("synm.audit.>", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewNATSPublisher(server.ClientURL(), "synm.audit", logging.NewTestLogger().Logger)
	require.NoError(t, err)
	defer pub.Close()

	record := disclosureRecord("s1")
	record.ID = "r1"
	record.Timestamp = time.Now().UTC()
	require.NoError(t, pub.Publish(context.Background(), record))
	require.NoError(t, pub.conn.Flush())

	select {
	case msg := <-received:
		assert.Equal(t, "synm.audit."+EventDisclosure, msg.Subject)
		var got Record
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "r1", got.ID)
		assert.Equal(t, EventDisclosure, got.EventType)
		assert.Equal(t, []string{"notes_work"}, got.ScopesGranted)
	case <-time.After(5 * time.Second):
		t.Fatal("audit event not delivered")
	}
}

func TestNATSPublisher_ConnectFailure(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "synm.audit", logging.NewTestLogger().Logger)
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	p := NoopPublisher{}
	require.NoError(t, p.Publish(context.Background(), disclosureRecord("s")))
	p.Close()
}
