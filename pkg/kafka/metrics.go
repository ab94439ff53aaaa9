package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by the consumer.
const (
	OutcomeProcessed = "processed"
	OutcomeMalformed = "malformed"
	OutcomeExhausted = "exhausted"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Kafka messages handled by the consumer, by outcome",
		},
		[]string{"topic", "consumer_group", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_retries_total",
			Help: "Kafka handler attempts that failed and were retried",
		},
		[]string{"topic", "consumer_group"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Time spent handling one Kafka message, retries included",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"topic", "consumer_group"},
	)

	eventLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_event_lag_seconds",
			Help:    "Delay between the catalogue emitting an event and the consumer picking it up",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"topic", "consumer_group"},
	)

	duplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_duplicate_total",
			Help: "Kafka events skipped because their id was already processed",
		},
		[]string{"event_type"},
	)

	deadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_dlq_published_total",
			Help: "Kafka messages handed to the dead-letter queue, by publish result",
		},
		[]string{"topic", "consumer_group", "result"},
	)
)

// consumerMetrics holds the series of one topic and consumer group.
type consumerMetrics struct {
	processed prometheus.Counter
	malformed prometheus.Counter
	exhausted prometheus.Counter
	retries   prometheus.Counter
	duration  prometheus.Observer
	lag       prometheus.Observer
	dlqOK     prometheus.Counter
	dlqFailed prometheus.Counter
}

func newConsumerMetrics(topic, group string) consumerMetrics {
	labels := prometheus.Labels{"topic": topic, "consumer_group": group}
	outcomes := messagesTotal.MustCurryWith(labels)
	dlq := deadLetteredTotal.MustCurryWith(labels)
	return consumerMetrics{
		processed: outcomes.WithLabelValues(OutcomeProcessed),
		malformed: outcomes.WithLabelValues(OutcomeMalformed),
		exhausted: outcomes.WithLabelValues(OutcomeExhausted),
		retries:   retriesTotal.With(labels),
		duration:  processingDuration.With(labels),
		lag:       eventLag.With(labels),
		dlqOK:     dlq.WithLabelValues("ok"),
		dlqFailed: dlq.WithLabelValues("error"),
	}
}

func (m consumerMetrics) failed(err error) {
	if errors.Is(err, ErrMalformedEvent) {
		m.malformed.Inc()
		return
	}
	m.exhausted.Inc()
}
