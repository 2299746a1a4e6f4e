package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
)

// PendingAssigner retries coach assignment for connections still waiting
// for a coach.  The workflow service implements it.
type PendingAssigner interface {
    AssignPending(ctx context.Context) (int, error)
}

// Consumer reads connection.events, appends a one-line record of each event
// to <LogDir>/notifications.log and, when a coach frees capacity, asks the
// assigner to drain the awaiting_coach backlog.
type Consumer struct {
    URL      string
    LogDir   string
    Assigner PendingAssigner
    Log      zerolog.Logger

    mu sync.Mutex // serializes appends to the log file
}

// Run connects to RabbitMQ and consumes until ctx is cancelled.  Broker
// failures are retried with exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            c.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("consumer: failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.Log.Warn().Err(err).Msg("consumer: consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.Log.Warn().Err(err).Msg("consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(QueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.Handle(ctx, d.Body); err != nil {
                c.Log.Error().Err(err).Str("message_id", d.MessageId).Msg("consumer: handle message failed")
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// Handle processes one message body.  A failed assignment pass is logged but
// does not fail the message: the event itself was recorded.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
    var ev ConnectionEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return errors.New("event type missing")
    }
    if err := c.appendLine(FormatLine(ev)); err != nil {
        return err
    }
    if ev.Type == CoachCapacityFreed && c.Assigner != nil {
        n, err := c.Assigner.AssignPending(ctx)
        if err != nil {
            c.Log.Error().Err(err).Msg("consumer: assign pending failed")
        } else if n > 0 {
            c.Log.Info().Int("assigned", n).Msg("consumer: drained awaiting_coach backlog")
        }
    }
    return nil
}

// FormatLine renders an event as a single human-friendly log line.
func FormatLine(ev ConnectionEvent) string {
    notify := "[]"
    if len(ev.NotifyIDs) > 0 {
        ids := make([]string, len(ev.NotifyIDs))
        for i, id := range ev.NotifyIDs {
            ids[i] = fmt.Sprint(id)
        }
        notify = "[" + strings.Join(ids, ",") + "]"
    }
    line := fmt.Sprintf("[%s] %s | id=%s | connection_id=%d | request_id=%d | event_id=%d | actor_id=%d | notify=%s",
        ev.OccurredAt, ev.Type, ev.ID, ev.ConnectionID, ev.RequestID, ev.EventID, ev.ActorID, notify)
    if ev.Status != "" {
        line += " | status=" + ev.Status
    }
    if ev.CoachID != 0 {
        line += fmt.Sprintf(" | coach_id=%d", ev.CoachID)
    }
    if ev.Detail != "" {
        line += fmt.Sprintf(" | detail=%q", ev.Detail)
    }
    return line + "\n"
}

func (c *Consumer) appendLine(line string) error {
    dir := c.LogDir
    if dir == "" {
        dir = "logs"
    }
    c.mu.Lock()
    defer c.mu.Unlock()
    // Ensure logs directory exists
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
