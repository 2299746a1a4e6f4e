package queue

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
)

// Publisher sends ConnectionEvents to the connection.events queue.  It keeps
// one connection and channel open and redials once when either has been
// closed by the broker.  Errors are logged and returned so callers can
// choose to ignore them; the workflow never fails because of a publish.
type Publisher struct {
    url string
    log zerolog.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher that dials lazily on first use.
func NewPublisher(url string, log zerolog.Logger) *Publisher {
    return &Publisher{url: url, log: log.With().Str("component", "publisher").Logger()}
}

// Publish marshals the event and publishes it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev ConnectionEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        p.log.Error().Err(err).Str("type", string(ev.Type)).Msg("marshal event failed")
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        MessageId:    ev.ID,
        Type:         string(ev.Type),
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    for attempt := 0; attempt < 2; attempt++ {
        if err = p.ensureChannel(); err != nil {
            continue
        }
        err = p.ch.PublishWithContext(ctx,
            "",        // default exchange
            QueueName, // routing key = queue name
            false,     // mandatory
            false,     // immediate
            pub,
        )
        if err == nil {
            return nil
        }
        p.reset()
    }
    p.log.Warn().Err(err).Str("type", string(ev.Type)).Str("event_id", ev.ID).Msg("publish failed")
    return err
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}

func (p *Publisher) ensureChannel() error {
    if p.ch != nil && !p.ch.IsClosed() {
        return nil
    }
    p.reset()
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return err
    }
    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return err
    }
    p.conn, p.ch = conn, ch
    return nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}
