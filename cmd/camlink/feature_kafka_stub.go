//go:build no_kafka

package main

import (
	"log/slog"

	"camlink/internal/coordinator"
)

type kafkaStopper struct{}

func (k *kafkaStopper) Stop() {}

func initKafka(_ *coordinator.Coordinator, cfg *Config, logger *slog.Logger) *kafkaStopper {
	if cfg.Kafka.Enabled {
		logger.Warn("kafka export configured but not compiled in (no_kafka build)")
	}
	return &kafkaStopper{}
}
