package config

import "time"

// Config is the root configuration shared by every justjobs command.
type Config struct {
	// Secret keys payload signatures. Processes sharing a store must agree.
	Secret  string        `koanf:"secret" validate:"required"`
	Queues  []string      `koanf:"queues" validate:"min=1,dive,required"`
	Store   StoreConfig   `koanf:"store"`
	Worker  WorkerConfig  `koanf:"worker"`
	Broker  BrokerConfig  `koanf:"broker"`
	Log     LogConfig     `koanf:"log"`
	API     APIConfig     `koanf:"api"`
	Monitor MonitorConfig `koanf:"monitor"`
}

type StoreConfig struct {
	URL string `koanf:"url" validate:"required"`
}

// WorkerConfig sizes each worker process.
type WorkerConfig struct {
	Coroutines      int           `koanf:"coroutines" validate:"min=1"`
	PollTimeout     time.Duration `koanf:"poll_timeout" validate:"gt=0"`
	MaxThreads      int           `koanf:"max_threads" validate:"min=1"`
	MaxProcesses    int           `koanf:"max_processes" validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type BrokerConfig struct {
	FailurePolicy string `koanf:"failure_policy" validate:"oneof=leave discard dead-letter"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `koanf:"format" validate:"oneof=json text"`
	File   string `koanf:"file"`
}

type APIConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// MonitorConfig schedules the queue statistics report of serve. An empty
// schedule disables it.
type MonitorConfig struct {
	Schedule string `koanf:"schedule"`
}
