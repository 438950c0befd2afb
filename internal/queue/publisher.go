package queue

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// PoolEventsQueue is the durable queue every domain event is routed to.
const PoolEventsQueue = "pool.events"

// DialTimeout bounds the TCP connect and AMQP handshake, and each publish.
const DialTimeout = 2 * time.Second

const defaultBuffer = 256

var (
    // ErrPublisherBusy is returned when the send buffer is full and the
    // event was dropped.
    ErrPublisherBusy = errors.New("event buffer full")
    // ErrPublisherClosed is returned by Publish after Close.
    ErrPublisherClosed = errors.New("publisher closed")
)

// Publisher sends PoolEvents to RabbitMQ from a single background
// goroutine.  Publish only queues the event, so a slow or unreachable
// broker never holds up the request that committed it.  The connection is
// opened on first send and re-dialled after a failure.
type Publisher struct {
    url         string
    queue       string
    dialTimeout time.Duration

    pending chan PoolEvent
    stop    chan struct{}
    done    chan struct{}
    once    sync.Once

    // owned by the send loop
    conn *amqp.Connection
}

// NewPublisher returns a Publisher for the broker at url and starts its
// send loop.
func NewPublisher(url string) *Publisher {
    return newPublisher(url, defaultBuffer, DialTimeout)
}

func newPublisher(url string, buffer int, dialTimeout time.Duration) *Publisher {
    p := &Publisher{
        url:         url,
        queue:       PoolEventsQueue,
        dialTimeout: dialTimeout,
        pending:     make(chan PoolEvent, buffer),
        stop:        make(chan struct{}),
        done:        make(chan struct{}),
    }
    go p.loop()
    return p
}

// Publish queues ev for delivery.  It never blocks; a full buffer drops
// the event and returns ErrPublisherBusy.
func (p *Publisher) Publish(_ context.Context, ev PoolEvent) error {
    select {
    case <-p.stop:
        return ErrPublisherClosed
    default:
    }
    select {
    case p.pending <- ev:
        return nil
    default:
        log.Printf("[WARN] rabbitmq: buffer full, dropping %s for pool %d", ev.Type, ev.PoolID)
        return ErrPublisherBusy
    }
}

func (p *Publisher) loop() {
    defer close(p.done)
    for {
        select {
        case <-p.stop:
            p.closeConn()
            return
        case ev := <-p.pending:
            if err := p.send(ev); err != nil {
                log.Printf("[WARN] rabbitmq: publish %s for pool %d: %v", ev.Type, ev.PoolID, err)
            }
        }
    }
}

func (p *Publisher) dial() (*amqp.Connection, error) {
    return amqp.DialConfig(p.url, amqp.Config{
        Dial:   amqp.DefaultDial(p.dialTimeout),
        Locale: "en_US",
    })
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.conn == nil || p.conn.IsClosed() {
        conn, err := p.dial()
        if err != nil {
            return nil, err
        }
        p.conn = conn
    }
    ch, err := p.conn.Channel()
    if err != nil {
        p.closeConn()
        return nil, err
    }
    return ch, nil
}

func (p *Publisher) send(ev PoolEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }
    ch, err := p.channel()
    if err != nil {
        return err
    }
    defer func() { _ = ch.Close() }()

    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
    defer cancel()
    return ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Type:         ev.Type,
        Body:         body,
    })
}

func (p *Publisher) closeConn() {
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}

// Close stops the send loop and releases the broker connection.  Events
// still buffered are dropped.  It waits at most one dial timeout for an
// in-flight send.
func (p *Publisher) Close() error {
    p.once.Do(func() { close(p.stop) })
    select {
    case <-p.done:
    case <-time.After(p.dialTimeout + time.Second):
        log.Printf("[WARN] rabbitmq: publisher still sending at close")
    }
    return nil
}
