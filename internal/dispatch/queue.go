package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/producer"
)

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	PublishRetry(ctx context.Context, body []byte, delay time.Duration) error
}

// Queue dispatches jobs through a durable broker queue. A Consumer on the
// same process feeds them into the local pool.
type Queue struct {
	pub Publisher
}

func NewQueue(pub Publisher) *Queue {
	return &Queue{pub: pub}
}

func (q *Queue) Dispatch(ctx context.Context, job producer.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	return q.pub.Publish(ctx, body)
}

const retryDelay = 5 * time.Second

// Consume moves deliveries into pool until ctx is done or deliveries
// closes. Malformed messages are dead-lettered; jobs that failed at the
// provider are dead-lettered after their stream was finalized; everything
// else is acknowledged once it ran.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, pool *Pool, pub Publisher) {
	log.Info().Msg("queue_consumer_started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue_consumer_stopping")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Msg("queue_delivery_channel_closed")
				return
			}
			handleDelivery(ctx, d, pool, pub)
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, pool *Pool, pub Publisher) {
	var job producer.Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.StreamID == "" {
		log.Error().Err(err).Msg("queue_bad_message")
		_ = d.Nack(false, false)
		return
	}

	err := pool.Submit(ctx, job, func(err error) {
		if err != nil && errors.Is(err, common.ErrProvider) {
			_ = d.Nack(false, false)
			return
		}
		if aerr := d.Ack(false); aerr != nil {
			log.Error().Err(aerr).Str("stream_id", job.StreamID).Msg("queue_ack_failed")
		}
	})
	if err == nil {
		return
	}

	// shutting down: park the job so another start picks it up
	log.Warn().Err(err).Str("stream_id", job.StreamID).Msg("queue_submit_failed")
	if perr := pub.PublishRetry(context.WithoutCancel(ctx), d.Body, retryDelay); perr != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
