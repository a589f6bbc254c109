// internal/queue/queue.go
package queue

import (
    "encoding/json"
    "log"
    "sync"

    "github.com/streadway/amqp"
)

const (
    // AlertQueue carries operator alert payloads (dead letters, watchdog
    // findings, worker failures).
    AlertQueue = "operator_alerts"
    // RetryQueue holds inbound events that hit a storage error mid-intake so
    // they can be replayed later.
    RetryQueue = "inbound_retry"
)

// Publisher pushes JSON payloads onto durable queues. Publishing is
// fire-and-forget from the caller's point of view: a broker outage is logged
// and must never block the dispatch path.
type Publisher struct {
    mu       sync.Mutex
    conn     *amqp.Connection
    ch       *amqp.Channel
    declared map[string]bool
}

func Dial(url string) (*Publisher, error) {
    conn, err := amqp.Dial(url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        conn.Close()
        return nil, err
    }
    log.Println("✅ Connected to message broker")
    return &Publisher{conn: conn, ch: ch, declared: make(map[string]bool)}, nil
}

func (p *Publisher) Publish(queueName string, payload any) error {
    body, err := json.Marshal(payload)
    if err != nil {
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    if err := p.declare(queueName); err != nil {
        return err
    }
    return p.ch.Publish("", queueName, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Body:         body,
    })
}

// Consume opens a delivery stream on queueName, declaring it first.
func (p *Publisher) Consume(queueName string) (<-chan amqp.Delivery, error) {
    p.mu.Lock()
    defer p.mu.Unlock()

    if err := p.declare(queueName); err != nil {
        return nil, err
    }
    return p.ch.Consume(queueName, "", true, false, false, false, nil)
}

// declare is idempotent per queue name; caller holds p.mu.
func (p *Publisher) declare(queueName string) error {
    if p.declared[queueName] {
        return nil
    }
    if _, err := p.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
        return err
    }
    p.declared[queueName] = true
    return nil
}

func (p *Publisher) Close() {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch != nil {
        p.ch.Close()
    }
    if p.conn != nil {
        p.conn.Close()
    }
}
