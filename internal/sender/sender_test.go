package sender

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/util"
)

func quickRetry() util.RetryConfig {
	return util.RetryConfig{Attempts: 2, Delay: time.Millisecond}
}

func TestSend_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	m := Message{
		Protocol: config.ProtocolUDP,
		IP:       "127.0.0.1",
		Port:     pc.LocalAddr().(*net.UDPAddr).Port,
		Text:     "go",
	}
	require.NoError(t, Send(context.Background(), m, quickRetry()))

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "go", string(buf[:n]))
}

func TestSend_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var sb strings.Builder
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		got <- sb.String()
	}()

	m := Message{
		Protocol: config.ProtocolTCP,
		IP:       "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Text:     "go-kill",
	}
	require.NoError(t, Send(context.Background(), m, quickRetry()))

	select {
	case s := <-got:
		assert.Equal(t, "go-kill", s)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
}

func TestSend_TCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = Send(context.Background(), Message{Protocol: config.ProtocolTCP, IP: "127.0.0.1", Port: port, Text: "go"}, quickRetry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestMessage_Validate(t *testing.T) {
	valid := Message{Protocol: config.ProtocolUDP, IP: "127.0.0.1", Port: 9001, Text: "go"}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Protocol = "icmp"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.IP = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Port = 0
	assert.Error(t, Send(context.Background(), bad, quickRetry()))
}

func TestFromConfig(t *testing.T) {
	m := FromConfig(config.SenderConfig{Message: "go", Protocol: config.ProtocolTCP, IP: "10.0.0.2", Port: 9100})
	assert.Equal(t, "10.0.0.2:9100", m.Address())
	assert.Equal(t, "go", m.Text)
	assert.Equal(t, config.ProtocolTCP, m.Protocol)
}
