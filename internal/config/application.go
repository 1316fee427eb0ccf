package config

import (
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/trigger"
)

type Application struct {
	Env            string  `mapstructure:"env"`
	Debug          bool    `mapstructure:"debug"`
	CheckpointsDir string  `mapstructure:"checkpoints_dir"`
	MetricsListen  string  `mapstructure:"metrics_listen"`
	Log            Log     `mapstructure:"log"`
	Trigger        Trigger `mapstructure:"trigger"`
	Window         Window  `mapstructure:"window"`
	Kafka          *Kafka  `mapstructure:"kafka"`
}

type Log struct {
	Level string `mapstructure:"level"`
	// Encoder is json or console
	Encoder     string   `mapstructure:"encoder"`
	TimeLayout  string   `mapstructure:"time_layout"`
	Stacktrace  bool     `mapstructure:"stacktrace"`
	Stdout      bool     `mapstructure:"stdout"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type Trigger struct {
	FireCheckInterval time.Duration `mapstructure:"fire_check_interval"`
	// Checkpoint is a cron spec, empty disables the checkpoint schedule
	Checkpoint        string        `mapstructure:"checkpoint"`
	BatchSize         int           `mapstructure:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	FlushParallelism  int           `mapstructure:"flush_parallelism"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

type Window struct {
	Name            string        `mapstructure:"name"`
	Size            time.Duration `mapstructure:"size"`
	Offset          time.Duration `mapstructure:"offset"`
	AllowedLateness time.Duration `mapstructure:"allowed_lateness"`
	// MaxGapSecond disables the stall escape when nil
	MaxGapSecond    *int64        `mapstructure:"max_gap_second"`
}

type Kafka struct {
	Addresses []string `mapstructure:"addresses"`
	Topics    []string `mapstructure:"topics"`
	GroupId   string   `mapstructure:"group_id"`
	Version   string   `mapstructure:"version"`
	Oldest    bool     `mapstructure:"oldest"`
}

func defaultApplication() Application {
	return Application{
		CheckpointsDir: ".",
		MetricsListen:  ":8080",
		Log: Log{
			Level:   "info",
			Encoder: "console",
			Stdout:  true,
		},
		Trigger: Trigger{
			FireCheckInterval: trigger.DefaultFireCheckInterval,
			BatchSize:         trigger.DefaultBatchSize,
			FlushInterval:     trigger.DefaultFlushInterval,
			FlushParallelism:  trigger.DefaultFlushParallelism,
			DrainTimeout:      trigger.DefaultDrainTimeout,
		},
		Window: Window{
			Name: "window",
			Size: time.Minute,
		},
	}
}

// Load reads the application config, dirs are searched before . and ./config/.
func Load(dirs ...string) (Application, error) {
	application := defaultApplication()
	if err := UnmarshalConfig(&application, "application", "application", dirs...); err != nil {
		return Application{}, err
	}
	return application, nil
}
