package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/event-checkin/internal/config"
)

// StartCheckinConsumer connects to RabbitMQ, declares the check-in queue
// (durable) and appends every delivered event to cfg.LogPath as one
// line.  It reconnects with backoff until ctx is cancelled and then
// returns ctx.Err().
func StartCheckinConsumer(ctx context.Context, cfg config.BrokerConfig, log *slog.Logger) error {
    if log == nil {
        log = slog.Default()
    }
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(cfg.URL)
        if err != nil {
            log.Warn("checkin-consumer: dial failed", "err", err, "retry_in", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, cfg, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("checkin-consumer: consume loop ended, reconnecting", "err", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
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

func consumeLoop(ctx context.Context, conn *amqp.Connection, cfg config.BrokerConfig, log *slog.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("checkin-consumer: set QoS failed", "err", err)
    }
    if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(cfg.Queue, "", false, false, false, false, nil)
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
            if err := handleMessage(cfg.LogPath, d.Body); err != nil {
                log.Error("checkin-consumer: handle message failed", "err", err)
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(path string, body []byte) error {
    var ev CheckinRecordedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.BookingID == "" && ev.RecordID == "" {
        return errors.New("event without record or booking id")
    }
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatLine(ev CheckinRecordedEvent) string {
    warnings := "[]"
    if len(ev.Warnings) > 0 {
        warnings = fmt.Sprintf("[%s]", strings.Join(ev.Warnings, ","))
    }
    reason := ev.Reason
    if reason == "" {
        reason = "-"
    }
    return fmt.Sprintf("[%s] Check-in %s | record_id=%s | booking_id=%s | event_id=%s | event=%q | device_id=%s | tickets=%d | reason=%s | location=%q | warnings=%s\n",
        ev.CheckedInAt, ev.Outcome, ev.RecordID, ev.BookingID, ev.EventID, ev.EventTitle, ev.DeviceID, ev.Tickets, reason, ev.Location, warnings)
}
