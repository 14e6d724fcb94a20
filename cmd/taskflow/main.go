// Package main runs the bundled DAGs from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow"
	"github.com/warriorguo/taskflow/dags"
	"github.com/warriorguo/taskflow/store/postgres"
	"github.com/warriorguo/taskflow/types"
)

const stepInterval = 10 * time.Millisecond

type paramsFlag types.Data

func (p paramsFlag) String() string {
	return fmt.Sprint(types.Data(p))
}

func (p paramsFlag) Set(value string) error {
	kv := strings.SplitN(value, "=", 2)
	if len(kv) != 2 || kv[0] == "" {
		return errors.NotValidf("param %q, expected key=value", value)
	}
	p[kv[0]] = kv[1]
	return nil
}

func main() {
	list := flag.Bool("list", false, "List the registered DAGs")
	dagName := flag.String("dag", "", "Run the DAG to completion")
	requestID := flag.String("request", "", "Request ID of the run (default: <dag>-<unix nano>)")
	render := flag.Bool("render", false, "Print the DOT graph of the finished run")
	pgDSN := flag.String("postgres", "", "PostgreSQL DSN, e.g. \"host=localhost user=postgres dbname=taskflow sslmode=disable\"")
	mongoURI := flag.String("mongo", "", "MongoDB URI")
	bucket := flag.String("s3-bucket", "", "S3 bucket storing the requests")
	logLevel := flag.String("log-level", "info", "Log level")
	params := paramsFlag{}
	flag.Var(params, "param", "Run parameter key=value, repeatable")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(level)

	ctx := context.Background()
	if err := run(ctx, &cliOptions{
		list:      *list,
		dagName:   *dagName,
		requestID: *requestID,
		render:    *render,
		pgDSN:     *pgDSN,
		mongoURI:  *mongoURI,
		bucket:    *bucket,
		params:    types.Data(params),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		log.Debug(errors.ErrorStack(err))
		os.Exit(1)
	}
}

type cliOptions struct {
	list      bool
	dagName   string
	requestID string
	render    bool
	pgDSN     string
	mongoURI  string
	bucket    string
	params    types.Data
}

func (o *cliOptions) flowOptions() ([]types.FlowOption, error) {
	opts := []types.FlowOption{
		types.DisableAutoStart(),
		types.DisableTaskRunAsync(),
	}

	switch {
	case o.pgDSN != "":
		config, err := postgres.ParseDSN(o.pgDSN)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid -postgres")
		}
		opts = append(opts, types.WithPostgresConfig(&types.PostgresConfig{
			Host:     config.Host,
			Port:     config.Port,
			User:     config.User,
			Password: config.Password,
			Database: config.Database,
			SSLMode:  config.SSLMode,
			Table:    config.Table,
		}))
	case o.mongoURI != "":
		opts = append(opts, types.WithMongoConfig(&types.MongoConfig{URI: o.mongoURI}))
	case o.bucket != "":
		opts = append(opts, types.WithS3Config(&types.S3Config{Bucket: o.bucket}))
	default:
		opts = append(opts, types.EnableMemStore())
	}
	return opts, nil
}

func run(ctx context.Context, o *cliOptions) error {
	opts, err := o.flowOptions()
	if err != nil {
		return errors.Trace(err)
	}

	engine, err := taskflow.NewFlowEngine(opts...)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := engine.Close(ctx); err != nil {
			log.Errorf("close engine failed: %v", err)
		}
	}()

	if err := dags.Register(engine, os.Stdout); err != nil {
		return errors.Trace(err)
	}

	if o.list {
		names, err := engine.ListDAGNames()
		if err != nil {
			return errors.Trace(err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}
	if o.dagName == "" {
		flag.Usage()
		return errors.New("one of -list or -dag is required")
	}

	return runDAG(ctx, engine, o)
}

func runDAG(ctx context.Context, engine types.FlowEngine, o *cliOptions) error {
	requestID := o.requestID
	if requestID == "" {
		requestID = fmt.Sprintf("%s-%d", o.dagName, time.Now().UnixNano())
	}

	if err := engine.RunDAG(ctx, o.dagName, requestID, o.params); err != nil {
		return errors.Annotatef(err, "run %s", o.dagName)
	}

	status, err := waitRequest(ctx, engine, requestID)
	if err != nil {
		return errors.Trace(err)
	}

	fmt.Printf("request=%s dag=%s status=%s\n", requestID, status.DAGName, status.Status)
	ids := make([]string, 0, len(status.TaskStates))
	for id := range status.TaskStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s: %s\n", id, status.TaskStates[id])
	}
	if status.LastError != "" {
		fmt.Printf("last error: %s\n", status.LastError)
	}

	if o.render {
		dot, err := engine.RenderRequestStatus(ctx, requestID)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Println(dot)
	}

	if status.Status != types.Finished {
		return errors.Errorf("request %s ended %s", requestID, status.Status)
	}
	return nil
}

// waitRequest steps the engine until the request is terminal or paused.
func waitRequest(ctx context.Context, engine types.FlowEngine, requestID string) (*types.RequestStatus, error) {
	for {
		if err := engine.RunOnce(); err != nil {
			log.Warnf("run once failed: %v", err)
		}

		status, err := engine.GetRequestStatus(ctx, requestID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if status.Status.IsTerminal() || status.Status == types.Paused {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-time.After(stepInterval):
		}
	}
}
