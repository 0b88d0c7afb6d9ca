package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	x402 "github.com/Zyzgsfi/agentpay"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type mockChannel struct {
	declared   []string
	declareErr error
	publishErr error
	sent       []published
	closed     bool
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if m.declareErr != nil {
		return m.declareErr
	}
	m.declared = append(m.declared, name+":"+kind)
	return nil
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.sent = append(m.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func TestNewPublisher(t *testing.T) {
	ch := &mockChannel{}
	p, err := NewPublisher(ch, Config{})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != DefaultExchange+":topic" {
		t.Errorf("declared = %v", ch.declared)
	}
	if p.RoutingKey(x402.PaymentEventSuccess) != "payment.success" {
		t.Errorf("RoutingKey() = %s", p.RoutingKey(x402.PaymentEventSuccess))
	}

	if _, err := NewPublisher(&mockChannel{declareErr: errors.New("access refused")}, Config{}); err == nil {
		t.Error("declare failure should propagate")
	}
}

func TestPublish(t *testing.T) {
	ch := &mockChannel{}
	p, _ := NewPublisher(ch, Config{Exchange: "payments", RoutingPrefix: "agentpay"})

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	event := x402.PaymentEvent{
		Type:        x402.PaymentEventFailure,
		Timestamp:   ts,
		Method:      "HTTP",
		URL:         "http://localhost:3000/api/premium-data",
		Amount:      "10000",
		Transaction: "0xabc",
		Polls:       30,
		Error:       x402.ErrConfirmationTimeout,
		Duration:    1500 * time.Millisecond,
	}
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d messages; want 1", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "payments" || got.key != "agentpay.failure" {
		t.Errorf("exchange/key = %s/%s", got.exchange, got.key)
	}
	if got.msg.ContentType != "application/json" || got.msg.DeliveryMode != amqp.Persistent || !got.msg.Timestamp.Equal(ts) {
		t.Errorf("publishing = %+v", got.msg)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["type"] != "failure" || body["transaction"] != "0xabc" || body["durationMs"] != float64(1500) {
		t.Errorf("body = %v", body)
	}
	if body["error"] != x402.ErrConfirmationTimeout.Error() {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCallback_LogsFailures(t *testing.T) {
	ch := &mockChannel{publishErr: errors.New("channel closed")}
	p, _ := NewPublisher(ch, Config{})

	// Must not panic or block.
	p.Callback()(x402.PaymentEvent{Type: x402.PaymentEventAttempt})

	ch.publishErr = nil
	p.Callback()(x402.PaymentEvent{Type: x402.PaymentEventVerified})
	if len(ch.sent) != 1 || ch.sent[0].key != "payment.verified" {
		t.Errorf("sent = %+v", ch.sent)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("Close() = %v, closed %v", err, ch.closed)
	}
}

func TestDial_RequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Error("Dial() without url should fail")
	}
}
