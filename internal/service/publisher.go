// Package service contains the outbound side effects of recording a
// check-in: broker publication and live notifications.
package service

import (
    "context"
    "encoding/json"
    "log/slog"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/event-checkin/internal/config"
    q "github.com/iliyamo/event-checkin/internal/queue"
)

// QueuePublisher publishes CheckinRecordedEvents to RabbitMQ.  Each
// publish dials the broker, so it is only suitable for low rates; errors
// are logged and returned so callers can choose to ignore them.
type QueuePublisher struct {
    cfg config.BrokerConfig
    log *slog.Logger
}

func NewQueuePublisher(cfg config.BrokerConfig, log *slog.Logger) *QueuePublisher {
    if log == nil {
        log = slog.Default()
    }
    return &QueuePublisher{cfg: cfg, log: log}
}

// CheckinRecorded publishes ev to the configured durable queue as a
// persistent message.
func (p *QueuePublisher) CheckinRecorded(ctx context.Context, ev q.CheckinRecordedEvent) error {
    conn, err := amqp.Dial(p.cfg.URL)
    if err != nil {
        p.log.Warn("rabbitmq: dial failed", "err", err)
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.log.Warn("rabbitmq: channel open failed", "err", err)
        return err
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        p.cfg.Queue, // name
        true,        // durable
        false,       // autoDelete
        false,       // exclusive
        false,       // noWait
        nil,         // args
    ); err != nil {
        p.log.Warn("rabbitmq: queue declare failed", "err", err)
        return err
    }

    pub, err := publishing(ev, time.Now())
    if err != nil {
        p.log.Warn("rabbitmq: marshal event failed", "err", err)
        return err
    }

    if err := ch.PublishWithContext(ctx,
        "",          // default exchange
        p.cfg.Queue, // routing key = queue name
        false,       // mandatory
        false,       // immediate
        pub,
    ); err != nil {
        p.log.Warn("rabbitmq: publish failed", "err", err)
        return err
    }
    return nil
}

func publishing(ev q.CheckinRecordedEvent, now time.Time) (amqp.Publishing, error) {
    body, err := json.Marshal(ev)
    if err != nil {
        return amqp.Publishing{}, err
    }
    return amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        MessageId:    ev.RecordID,
        Type:         "checkin.recorded",
        Timestamp:    now.UTC(),
        Body:         body,
    }, nil
}
