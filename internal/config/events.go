package config

import "time"

// EventsConfig configures the RabbitMQ domain event publisher and the
// in-process consumer.
type EventsConfig struct {
	Enabled       bool
	URL           string // RABBITMQ_URL
	RequestQueue  string // request status changes
	ImageQueue    string // released gear images
	LogDir        string // where the consumer appends the event log
	ConsumerCount int
	DialTimeout   time.Duration // EVENTS_DIAL_TIMEOUT
	RetryAfter    time.Duration // EVENTS_RETRY_AFTER, publisher pause after a failed dial
}

// LoadEventsConfig reads the RabbitMQ settings.  Events are disabled when
// no URL is configured.
func LoadEventsConfig() EventsConfig {
	cfg := EventsConfig{
		Enabled:       envBool("EVENTS_ENABLED", true),
		URL:           envStr("RABBITMQ_URL", ""),
		RequestQueue:  envStr("EVENTS_REQUEST_QUEUE", "gear.request.status"),
		ImageQueue:    envStr("EVENTS_IMAGE_QUEUE", "gear.image.release"),
		LogDir:        envStr("EVENT_LOG_DIR", "logs"),
		ConsumerCount: envInt("EVENTS_CONSUMERS", 1),
		DialTimeout:   envDur("EVENTS_DIAL_TIMEOUT", 2*time.Second),
		RetryAfter:    envDur("EVENTS_RETRY_AFTER", 15*time.Second),
	}
	if cfg.URL == "" {
		cfg.Enabled = false
	}
	if cfg.ConsumerCount < 1 {
		cfg.ConsumerCount = 1
	}
	return cfg
}
