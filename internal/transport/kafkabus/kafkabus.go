// Package kafkabus binds the stream processor to Kafka: a consumer group
// reader for raw alerts and a key-hashed writer for enriched alerts.
package kafkabus

import (
	"errors"
	"strings"
	"time"
)

// Default topology, shared with the device gateway and the notifier.
const (
	DefaultInputTopic  = "alert-events"
	DefaultOutputTopic = "enriched-alerts-events"
	DefaultGroupID     = "alert-enrichment"
)

// Message headers on enriched alerts.
const (
	HeaderEnrichmentID = "enrichment_id"
	HeaderSeverity     = "severity"
)

const (
	maxPollWait    = 500 * time.Millisecond
	commitInterval = 0 // synchronous commits
	writeTimeout   = 10 * time.Second
)

// ParseBrokers splits a comma-separated broker list, trimming entries and dropping blanks.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func validateConsumerParams(brokers []string, topic, groupID string) error {
	var errs []error
	if len(brokers) == 0 {
		errs = append(errs, errors.New("kafka: brokers cannot be empty"))
	}
	if topic == "" {
		errs = append(errs, errors.New("kafka: topic cannot be empty"))
	}
	if groupID == "" {
		errs = append(errs, errors.New("kafka: group id cannot be empty"))
	}
	return errors.Join(errs...)
}

func validateProducerParams(brokers []string, topic string) error {
	var errs []error
	if len(brokers) == 0 {
		errs = append(errs, errors.New("kafka: brokers cannot be empty"))
	}
	if topic == "" {
		errs = append(errs, errors.New("kafka: topic cannot be empty"))
	}
	return errors.Join(errs...)
}
