package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/logging"
	"github.com/albachteng/justjobs/internal/manager"
	"github.com/albachteng/justjobs/internal/queue"
)

// EnvPrefix marks the environment variables read as configuration:
// JUSTJOBS_WORKER_POLL_TIMEOUT sets worker.poll_timeout.
const EnvPrefix = "JUSTJOBS_"

// legacyEnv are variable names honoured for compatibility with older
// deployments. The JUSTJOBS_ form wins when both are set.
var legacyEnv = map[string]string{
	"JOB_SERIALIZATION_SECRET": "secret",
	"MAX_THREAD_WORKERS":       "worker.max_threads",
	"MAX_PROCESS_WORKERS":      "worker.max_processes",
}

var sections = []string{"store", "worker", "broker", "log", "api", "monitor"}

var validate = validator.New()

func DefaultConfig() Config {
	m := manager.DefaultConfig()
	return Config{
		Queues: m.Queues,
		Store:  StoreConfig{URL: "redis://localhost:6379/0"},
		Worker: WorkerConfig{
			Coroutines:      m.CoroutinesPerWorker,
			PollTimeout:     m.PollTimeout,
			MaxThreads:      m.ThreadWorkers,
			MaxProcesses:    m.ProcessWorkers,
			ShutdownTimeout: m.ShutdownTimeout,
		},
		Broker:  BrokerConfig{FailurePolicy: string(m.FailurePolicy)},
		Log:     LogConfig{Level: "info", Format: "json"},
		API:     APIConfig{Addr: ":8080"},
		Monitor: MonitorConfig{Schedule: "@every 1m"},
	}
}

// DefaultConfigAsMap lists every key with its default so later layers and
// flags have something to override.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"secret": def.Secret,
		"queues": def.Queues,

		"store.url": def.Store.URL,

		"worker.coroutines":       def.Worker.Coroutines,
		"worker.poll_timeout":     def.Worker.PollTimeout,
		"worker.max_threads":      def.Worker.MaxThreads,
		"worker.max_processes":    def.Worker.MaxProcesses,
		"worker.shutdown_timeout": def.Worker.ShutdownTimeout,

		"broker.failure_policy": def.Broker.FailurePolicy,

		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"api.addr": def.API.Addr,

		"monitor.schedule": def.Monitor.Schedule,
	}
}

// Load merges, lowest precedence first: defaults, the YAML file at path (if
// any), legacy environment variables, JUSTJOBS_ variables and changed flags.
// The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error checking config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("error loading legacy environment variables: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("error loading command-line flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func legacyKey(name, value string) (string, any) {
	return legacyEnv[name], value
}

// envKey maps JUSTJOBS_WORKER_MAX_THREADS to worker.max_threads. Only the
// section separator becomes a dot; the rest of the name keeps its
// underscores.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok {
			return s + "." + rest, value
		}
	}
	if key == "queues" {
		return key, splitList(value)
	}
	return key, value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Manager converts the loaded configuration into a manager.Config.
func (c *Config) Manager() (manager.Config, error) {
	policy, err := broker.ParseFailurePolicy(c.Broker.FailurePolicy)
	if err != nil {
		return manager.Config{}, err
	}
	return manager.Config{
		Secret:              []byte(c.Secret),
		Queues:              append([]string(nil), c.Queues...),
		Store:               queue.Target{URL: c.Store.URL},
		CoroutinesPerWorker: c.Worker.Coroutines,
		PollTimeout:         c.Worker.PollTimeout,
		ThreadWorkers:       c.Worker.MaxThreads,
		ProcessWorkers:      c.Worker.MaxProcesses,
		ShutdownTimeout:     c.Worker.ShutdownTimeout,
		FailurePolicy:       policy,
		ChildCommand:        executor.SelfCommand("run-job"),
	}, nil
}

// Logging converts the log section into a logging.Config.
func (c *Config) Logging() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return cfg, err
	}
	json, err := logging.ParseFormat(c.Log.Format)
	if err != nil {
		return cfg, err
	}
	cfg.Level = level
	cfg.JSON = json
	cfg.OutputFile = c.Log.File
	return cfg, nil
}

// BindFlags defines the flags that override file and environment settings.
// Flag names are the configuration keys.
func BindFlags(flags *pflag.FlagSet) {
	def := DefaultConfig()

	flags.StringSlice("queues", def.Queues, "Queues to serve, one worker process each")
	flags.String("store.url", def.Store.URL, "Store URL (redis://, sqlite://, memory://)")

	flags.Int("worker.coroutines", def.Worker.Coroutines, "Concurrent job loops per worker process")
	flags.Duration("worker.poll_timeout", def.Worker.PollTimeout, "Blocking wait per poll of an empty queue")
	flags.Int("worker.max_threads", def.Worker.MaxThreads, "Thread pool size for io-bound jobs")
	flags.Int("worker.max_processes", def.Worker.MaxProcesses, "Process pool size for cpu-bound jobs")
	flags.Duration("worker.shutdown_timeout", def.Worker.ShutdownTimeout, "Time allowed for a worker to wind down")

	flags.String("broker.failure_policy", def.Broker.FailurePolicy, "What to do with failed jobs: leave, discard or dead-letter")

	flags.String("log.level", def.Log.Level, "Log level (debug, info, warn, error)")
	flags.String("log.format", def.Log.Format, "Log format (json, text)")
	flags.String("log.file", def.Log.File, "Rotated log file, in addition to the console")

	flags.String("api.addr", def.API.Addr, "HTTP listen address for serve")
	flags.String("monitor.schedule", def.Monitor.Schedule, "Cron schedule of the queue stats report in serve (empty disables)")
}

// Environ renders the configuration as JUSTJOBS_ variables. Child processes
// started with it resolve the same configuration as this one, whatever
// file or flags produced it.
func (c *Config) Environ() []string {
	vars := map[string]string{
		"SECRET":                  c.Secret,
		"QUEUES":                  strings.Join(c.Queues, ","),
		"STORE_URL":               c.Store.URL,
		"WORKER_COROUTINES":       strconv.Itoa(c.Worker.Coroutines),
		"WORKER_POLL_TIMEOUT":     c.Worker.PollTimeout.String(),
		"WORKER_MAX_THREADS":      strconv.Itoa(c.Worker.MaxThreads),
		"WORKER_MAX_PROCESSES":    strconv.Itoa(c.Worker.MaxProcesses),
		"WORKER_SHUTDOWN_TIMEOUT": c.Worker.ShutdownTimeout.String(),
		"BROKER_FAILURE_POLICY":   c.Broker.FailurePolicy,
		"LOG_LEVEL":               c.Log.Level,
		"LOG_FORMAT":              c.Log.Format,
		"LOG_FILE":                c.Log.File,
		"API_ADDR":                c.API.Addr,
		"MONITOR_SCHEDULE":        c.Monitor.Schedule,
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, EnvPrefix+k+"="+v)
	}
	sort.Strings(out)
	return out
}
