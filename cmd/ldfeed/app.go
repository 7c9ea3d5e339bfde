package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/ldfeed/config"
	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/sink"
	"github.com/zero-day-ai/ldfeed/source/sqlite"
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	closers []io.Closer
}

func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath == "" {
		cfg, err = config.FromEnv()
	} else {
		cfg, err = config.Load(flags.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

// Close releases every resource opened through the app.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		feederr.CloseWithLog(a.closers[i], a.logger, fmt.Sprintf("%T", a.closers[i]))
	}
	a.closers = nil
}

// descriptor loads the configured descriptor, falling back to the one that
// ships with the catalogue.
func (a *app) descriptor() (*descriptor.Descriptor, error) {
	if a.cfg.Descriptor == "" {
		return sqlite.Descriptor()
	}
	return descriptor.LoadFile(a.cfg.Descriptor)
}

func (a *app) store() (*sqlite.Store, error) {
	if a.cfg.Source.SQLite == "" {
		return nil, fmt.Errorf("source.sqlite is not configured")
	}
	store, err := sqlite.Open(a.cfg.Source.SQLite)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

// constraintSource returns the configured constraint source. An etcd client
// stays open until the app is closed.
func (a *app) constraintSource() (constraint.Source, error) {
	cc := a.cfg.Constraints
	switch {
	case cc.UsesEtcd():
		src, client, err := constraint.DialEtcd(constraint.EtcdConfig{
			Endpoints:   cc.Etcd.Endpoints,
			Namespace:   cc.Etcd.Namespace,
			Key:         cc.Etcd.Key,
			DialTimeout: cc.Etcd.GetDialTimeout(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return src, nil
	case cc.Path != "":
		return constraint.FileSource{Path: cc.Path}, nil
	default:
		return nil, fmt.Errorf("no constraint set configured: set constraints.path or constraints.etcd")
	}
}

// checker builds a constraint checker loaded from the configured source.
func (a *app) checker(ctx context.Context) (*constraint.CELChecker, error) {
	src, err := a.constraintSource()
	if err != nil {
		return nil, err
	}
	checker, err := constraint.NewChecker(constraint.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := checker.Load(ctx, src); err != nil {
		return nil, err
	}
	return checker, nil
}

// sinks returns the configured report sinks, or nil when none is set.
func (a *app) sinks() (sink.Sink, error) {
	rc := a.cfg.Report
	var sinks sink.Multi

	if rc.Output != "" {
		format, err := report.ParseFormat(rc.GetFormat())
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink.FileSink{Path: rc.Output, Format: format})
	}
	if rc.RedisURL != "" {
		rs, err := a.redis()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rs)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func (a *app) redis() (*sink.RedisSink, error) {
	if a.cfg.Report.RedisURL == "" {
		return nil, fmt.Errorf("report.redis_url is not configured")
	}
	rs, err := sink.NewRedisSink(sink.RedisOptions{
		URL:    a.cfg.Report.RedisURL,
		Prefix: a.cfg.Report.GetRedisPrefix(),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rs)
	return rs, nil
}
