//go:build !no_kafka

package main

import (
	"log/slog"

	"camlink/internal/coordinator"
	"camlink/internal/eventsink"
)

type kafkaStopper struct {
	sink *eventsink.Sink
}

func (k *kafkaStopper) Stop() {
	if k.sink != nil {
		k.sink.Stop()
	}
}

func initKafka(coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) *kafkaStopper {
	if !cfg.Kafka.Enabled {
		return &kafkaStopper{}
	}
	sink := eventsink.New(eventsink.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, logger)
	sink.Attach(coord.Events())
	return &kafkaStopper{sink: sink}
}
