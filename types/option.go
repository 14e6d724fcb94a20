package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

type TriggerRule string

const (
	AllSuccess              TriggerRule = "all_success"
	AllDone                 TriggerRule = "all_done"
	AllSkipped              TriggerRule = "all_skipped"
	OneSuccess              TriggerRule = "one_success"
	NoneFailed              TriggerRule = "none_failed"
	NoneFailedMinOneSuccess TriggerRule = "none_failed_min_one_success"
)

func (r TriggerRule) Valid() bool {
	switch r {
	case AllSuccess, AllDone, AllSkipped, OneSuccess, NoneFailed, NoneFailedMinOneSuccess:
		return true
	}
	return false
}

// XComRef addresses an inter-task value produced by another task of the same request.
type XComRef struct {
	TaskID string `json:",omitempty"`
	Key    string `json:",omitempty"`
}

type TaskOptions struct {
	/**
	 * Args maps a handler input name to the upstream value it is filled with.
	 * Every referenced task becomes an upstream of the task.
	 */
	Args     map[string]XComRef
	Upstream []string

	TriggerRule TriggerRule   `default:"all_success"`
	Retries     int           `default:"0"`
	RetryDelay  time.Duration `default:"1s"`
}
type TaskOption func(*TaskOptions)

func NewTaskOptions(options ...TaskOption) *TaskOptions {
	opts := &TaskOptions{Args: map[string]XComRef{}}
	defaults.SetDefaults(opts)
	for _, opt := range options {
		opt(opts)
	}
	return opts
}

// WithArg fills input name with the value returned by from.
func WithArg(name string, from TaskHandle) TaskOption {
	return WithXComArg(name, from, ReturnValueKey)
}

// WithXComArg fills input name with the value from pushed under key.
func WithXComArg(name string, from TaskHandle, key string) TaskOption {
	return func(opts *TaskOptions) {
		if opts.Args == nil {
			opts.Args = map[string]XComRef{}
		}
		opts.Args[name] = XComRef{TaskID: from.TaskID(), Key: key}
	}
}

func DependsOn(tasks ...TaskHandle) TaskOption {
	return func(opts *TaskOptions) {
		for _, t := range tasks {
			opts.Upstream = append(opts.Upstream, t.TaskID())
		}
	}
}

func WithTriggerRule(rule TriggerRule) TaskOption {
	return func(opts *TaskOptions) {
		opts.TriggerRule = rule
	}
}

func WithRetries(retries int) TaskOption {
	return func(opts *TaskOptions) {
		opts.Retries = retries
	}
}

func WithRetryDelay(delay time.Duration) TaskOption {
	return func(opts *TaskOptions) {
		opts.RetryDelay = delay
	}
}

func NewFlowOptions() *FlowOptions {
	opts := &FlowOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type FlowOptions struct {
	Ctx context.Context
	/**
	 * default: 100000
	 * size of the worker pool, the flowengine will try to run requests at most to this value.
	 */
	MaxNodeConcurrency int `default:"100000"`
	/**
	 * default: 16
	 * how many ready tasks of one request may run at the same time.
	 * Only used when TaskRunAsync is true.
	 */
	MaxActiveTasks int `default:"16"`
	/**
	 * default: true, can set it to false and *important*
	 * caller should call FlowEngine.RunOnce() looply.
	 */
	AutoStart bool `default:"true"`
	/**
	 * default: true, only set it to false when doing debugging or developing.
	 * TaskRunAsync indicates whether the tasks run in async mode or not.
	 * If TaskRunAsync is true, each request step runs in the worker pool. Otherwise all
	 * the ready tasks will run one by one in task id order.
	 * If TaskRunAsync is true, after RunOnce, tasks may not finish running.
	 */
	TaskRunAsync bool `default:"true"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`
	/**
	 * default: 10ms
	 * how long the background loop sleeps between two RunOnce calls.
	 */
	PollInterval time.Duration `default:"10ms"`

	// Store precedence: PostgresConfig, MongoConfig, S3Config, then the mem store.
	PostgresConfig *PostgresConfig
	MongoConfig    *MongoConfig
	S3Config       *S3Config
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
	Table    string
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// S3Config holds the object store configuration, Endpoint is set for S3 compatible stores
type S3Config struct {
	Bucket          string
	Root            string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
}

type FlowOption func(*FlowOptions)

func WithContext(ctx context.Context) FlowOption {
	return func(opts *FlowOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxNodeConcurrency(concurrency int) FlowOption {
	return func(opts *FlowOptions) {
		opts.MaxNodeConcurrency = concurrency
	}
}

func SetMaxActiveTasks(n int) FlowOption {
	return func(opts *FlowOptions) {
		opts.MaxActiveTasks = n
	}
}

func SetPollInterval(interval time.Duration) FlowOption {
	return func(opts *FlowOptions) {
		opts.PollInterval = interval
	}
}

func DisableAutoStart() FlowOption {
	return func(opts *FlowOptions) {
		opts.AutoStart = false
	}
}

func DisableTaskRunAsync() FlowOption {
	return func(opts *FlowOptions) {
		opts.TaskRunAsync = false
	}
}

func EnableMemStore() FlowOption {
	return func(opts *FlowOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the flow engine to use PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.PostgresConfig = config
	}
}

// WithMongoConfig configures the flow engine to use MongoDB store
func WithMongoConfig(config *MongoConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.MongoConfig = config
	}
}

// WithS3Config configures the flow engine to use an S3 bucket as store
func WithS3Config(config *S3Config) FlowOption {
	return func(opts *FlowOptions) {
		opts.S3Config = config
	}
}
