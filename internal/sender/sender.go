// Package sender sends one-shot test messages to a listener.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/util"
)

// DialTimeout bounds a single connection attempt.
const DialTimeout = 3 * time.Second

// Message is one outbound test message.
type Message struct {
	Protocol config.Protocol
	IP       string
	Port     int
	Text     string
}

// FromConfig builds a message from the [sender] defaults.
func FromConfig(cfg config.SenderConfig) Message {
	return Message{
		Protocol: cfg.Protocol,
		IP:       cfg.IP,
		Port:     cfg.Port,
		Text:     cfg.Message,
	}
}

// Address returns the destination host:port.
func (m Message) Address() string {
	return net.JoinHostPort(m.IP, strconv.Itoa(m.Port))
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	if !m.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q (expected udp or tcp)", m.Protocol)
	}
	if m.IP == "" {
		return fmt.Errorf("destination IP is empty")
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("port %d out of range", m.Port)
	}
	return nil
}

// Send delivers m as one UDP datagram or one TCP connection carrying the
// text. Transient dial and write failures are retried per retry.
func Send(ctx context.Context, m Message, retry util.RetryConfig) error {
	if err := m.Validate(); err != nil {
		return err
	}
	err := util.Retry(ctx, retry, func() error {
		return sendOnce(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("sending to %s %s: %w", m.Protocol, m.Address(), err)
	}
	return nil
}

func sendOnce(ctx context.Context, m Message) error {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, string(m.Protocol), m.Address())
	if err != nil {
		var addrErr *net.AddrError
		var dnsErr *net.DNSError
		if errors.As(err, &addrErr) || (errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
			return util.MarkPermanent(err)
		}
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(DialTimeout))
	}
	_, err = conn.Write([]byte(m.Text))
	return err
}
