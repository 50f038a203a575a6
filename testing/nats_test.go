package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)
	require.True(t, nc.IsConnected())

	received := make(chan string, 1)
	_, err := nc.Subscribe("smoke.test", func(m *nats.Msg) {
		received <- string(m.Data)
	})
	require.NoError(t, err)

	nc2 := Connect(t, ns)
	require.NoError(t, nc2.Publish("smoke.test", []byte("hello")))

	select {
	case msg := <-received:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}
