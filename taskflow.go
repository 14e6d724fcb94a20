package taskflow

import (
	"context"
	"io"
	"sync"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/store/mem"
	"github.com/warriorguo/taskflow/store/mongo"
	"github.com/warriorguo/taskflow/store/postgres"
	"github.com/warriorguo/taskflow/store/s3"
	"github.com/warriorguo/taskflow/types"
)

// NewFlowEngine creates a new flow engine with the given options
func NewFlowEngine(opts ...types.FlowOption) (types.FlowEngine, error) {
	options := types.NewFlowOptions()
	for _, opt := range opts {
		opt(options)
	}

	s, err := NewStore(options.Ctx, options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &flowEngine{FlowEngine: runtime.NewFlowEngine(s, options), store: s}, nil
}

// NewStore picks the store by precedence: PostgresConfig, MongoConfig, S3Config, then the mem store.
func NewStore(ctx context.Context, options *types.FlowOptions) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		pgConfig := &postgres.Config{
			Host:     options.PostgresConfig.Host,
			Port:     options.PostgresConfig.Port,
			User:     options.PostgresConfig.User,
			Password: options.PostgresConfig.Password,
			Database: options.PostgresConfig.Database,
			SSLMode:  options.PostgresConfig.SSLMode,
			Table:    options.PostgresConfig.Table,
		}
		s, err := postgres.NewPostgresStore(pgConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil

	case options.MongoConfig != nil:
		s, err := mongo.NewMongoStore(ctx, &mongo.Config{
			URI:        options.MongoConfig.URI,
			Database:   options.MongoConfig.Database,
			Collection: options.MongoConfig.Collection,
		})
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create MongoDB store")
		}
		return s, nil

	case options.S3Config != nil:
		s, err := s3.NewS3Store(ctx, &s3.Config{
			Bucket:          options.S3Config.Bucket,
			Root:            options.S3Config.Root,
			Region:          options.S3Config.Region,
			Endpoint:        options.S3Config.Endpoint,
			ForcePathStyle:  options.S3Config.ForcePathStyle,
			AccessKeyID:     options.S3Config.AccessKeyID,
			SecretAccessKey: options.S3Config.SecretAccessKey,
			SessionToken:    options.S3Config.SessionToken,
		})
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create S3 store")
		}
		return s, nil
	}

	if !options.MemStore {
		log.Warnf("no store configured, requests are kept in memory only")
	}
	return mem.NewMemStore(), nil
}

// flowEngine closes the store once every request is paused.
type flowEngine struct {
	types.FlowEngine

	store     store.Store
	closeOnce sync.Once
}

func (f *flowEngine) Close(ctx context.Context) error {
	if err := f.FlowEngine.Close(ctx); err != nil {
		return errors.Trace(err)
	}

	var err error
	f.closeOnce.Do(func() {
		if closer, ok := f.store.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return errors.Trace(err)
}
