package queue

import (
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// StartAuditConsumer connects to RabbitMQ, declares the pool.events queue
// and appends every delivered event to the audit log at logPath as one
// line.  It runs a reconnect loop with exponential backoff and never
// returns; malformed messages are rejected without requeueing so the loop
// keeps moving.
func StartAuditConsumer(url, logPath string) {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Printf("[WARN] audit-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            time.Sleep(backoff)
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        if err := consumeLoop(conn, logPath); err != nil {
            log.Printf("[WARN] audit-consumer: consume loop ended: %v; reconnecting", err)
            _ = conn.Close()
            time.Sleep(2 * time.Second)
        }
    }
}

func consumeLoop(conn *amqp.Connection, logPath string) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Printf("[WARN] audit-consumer: set QoS failed: %v", err)
    }
    if _, err := ch.QueueDeclare(PoolEventsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(PoolEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := HandleMessage(logPath, d.Body); err != nil {
            log.Printf("[ERROR] audit-consumer: handle message failed: %v", err)
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

// HandleMessage decodes one event body and appends its audit line.
func HandleMessage(logPath string, body []byte) error {
    var ev PoolEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return errors.New("event without type")
    }
    if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatAuditLine renders ev as a single human friendly line ending in a
// newline.  Empty fields are left out.
func FormatAuditLine(ev PoolEvent) string {
    parts := []string{fmt.Sprintf("[%s] %s", ev.OccurredAt, ev.Type), fmt.Sprintf("pool_id=%d", ev.PoolID)}
    if ev.ReservationID != 0 {
        parts = append(parts, fmt.Sprintf("reservation_id=%d", ev.ReservationID))
    }
    if ev.SubmissionID != 0 {
        parts = append(parts, fmt.Sprintf("submission_id=%d", ev.SubmissionID))
    }
    if ev.UserID != 0 {
        parts = append(parts, fmt.Sprintf("user_id=%d", ev.UserID))
    }
    if ev.Status != "" {
        parts = append(parts, "status="+ev.Status)
    }
    if ev.Reason != "" {
        parts = append(parts, fmt.Sprintf("reason=%q", ev.Reason))
    }
    if ev.Amount != "" {
        amt := "amount=" + ev.Amount
        if ev.CoinType != "" {
            amt += " " + ev.CoinType
        }
        parts = append(parts, amt)
    }
    return strings.Join(parts, " | ") + "\n"
}
