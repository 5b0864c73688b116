package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	// GroupID must be unique per replica: every replica keeps its own
	// cache generations and needs every event.
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the number of datasets whose last applied event
	// time is remembered.
	DedupeSize          int
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 4096
	}
	return c
}
