package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/ldfeed"
	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feed"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/health"
	"github.com/zero-day-ai/ldfeed/report"
	"github.com/zero-day-ai/ldfeed/sink"
	"github.com/zero-day-ai/ldfeed/source/sqlite"
)

func seedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE...",
		Short: "Load movies from YAML files into the catalogue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.store()
			if err != nil {
				return err
			}

			var movies []sqlite.Movie
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read seed file: %w", err)
				}
				var batch []sqlite.Movie
				if err := yaml.Unmarshal(data, &batch); err != nil {
					return fmt.Errorf("parse seed file %s: %w", path, err)
				}
				movies = append(movies, batch...)
			}

			if err := store.Seed(cmd.Context(), movies...); err != nil {
				return err
			}
			a.logger.Info("catalogue seeded",
				"component", "cli",
				"movies", len(movies),
				"path", a.cfg.Source.SQLite)
			return nil
		},
	}
}

func encodeCmd(flags *globalFlags) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Write catalogue movies as standalone JSON-LD documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(cmd.Context(), false)
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			movies, err := store.Movies(cmd.Context())
			if err != nil {
				return err
			}

			enc := p.Encoder()
			written := 0
			for _, m := range movies {
				if id != "" && m.URL != id {
					continue
				}
				n, err := m.Node()
				if err != nil {
					return err
				}
				if err := enc.Write(cmd.OutOrStdout(), n, sqlite.TypeMovie); err != nil {
					return fmt.Errorf("encode %s: %w", m.URL, err)
				}
				written++
			}
			if id != "" && written == 0 {
				return fmt.Errorf("no movie with url %q", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Only encode the movie with this URL")
	return cmd
}

func validateCmd(flags *globalFlags) *cobra.Command {
	var (
		format string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate [FILE...]",
		Short: "Validate JSON-LD documents and print the report",
		Long: `Validate reads JSON-LD documents from the given files, or standard input
when none is given. ItemList and DataFeed documents are validated member by
member. The report is printed to standard output and published to the
configured report sinks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if format == "" {
				format = a.cfg.Report.GetFormat()
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := a.pipeline(ctx, true)
			if err != nil {
				return err
			}
			v, err := p.NewValidator()
			if err != nil {
				return err
			}

			var errs []error
			add := func(obj document.Object) error {
				if _, err := v.AddEntity(ctx, obj); err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					a.logger.Error("entity not validated", "component", "cli", "error", err)
					errs = append(errs, err)
				}
				return nil
			}

			if len(args) == 0 {
				if err := document.DecodeObjects(cmd.InOrStdin(), add); err != nil {
					return err
				}
			}
			for _, path := range args {
				if err := decodeFile(path, add); err != nil {
					return err
				}
			}

			r, err := v.Close()
			if err != nil {
				return err
			}
			if err := report.Render(cmd.OutOrStdout(), r, f); err != nil {
				return err
			}
			if err := a.publish(ctx, r); err != nil {
				return err
			}

			if len(errs) > 0 {
				return fmt.Errorf("%d entities could not be validated: %w", len(errs), errors.Join(errs...))
			}
			if n := r.Count(report.SeverityViolation); strict && n > 0 {
				return fmt.Errorf("%d violations found", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Report format (html, json, markdown)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error when any violation is found")
	return cmd
}

func feedCmd(flags *globalFlags) *cobra.Command {
	var (
		feedType    string
		output      string
		keepInvalid bool
		noValidate  bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Write the catalogue as an ItemList or DataFeed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if feedType == "" {
				feedType = a.cfg.Feed.GetType()
			}
			typ, err := feed.ParseType(feedType)
			if err != nil {
				return err
			}
			if output == "" {
				output = a.cfg.Feed.Output
			}

			store, err := a.store()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			opts := []ldfeed.Option{ldfeed.WithFeedType(typ)}
			if keepInvalid || a.cfg.Feed.KeepInvalid {
				opts = append(opts, ldfeed.WithKeepInvalid())
			}
			if !noValidate {
				s, err := a.sinks()
				if err != nil {
					return err
				}
				if s != nil {
					opts = append(opts, ldfeed.WithSink(s))
				}
			}
			p, err := a.pipeline(ctx, !noValidate, opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create feed file: %w", err)
				}
				defer feederr.CloseWithLog(file, a.logger, output)
				out = file
			}

			nodes, err := store.Nodes(ctx)
			if err != nil {
				return err
			}
			w, err := p.NewFeed(out)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				if _, err := w.AddItem(ctx, n, sqlite.TypeMovie); err != nil {
					return err
				}
			}
			r, err := w.Close(ctx)
			if err != nil {
				return err
			}
			if r != nil && output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%d items written, %d skipped, %d violations\n",
					w.Count(), w.Skipped(), r.Count(report.SeverityViolation))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&feedType, "type", "t", "", "Feed type (ItemList or DataFeed)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Feed file (default standard output)")
	cmd.Flags().BoolVar(&keepInvalid, "keep-invalid", false, "Write items that fail validation")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip validation")
	return cmd
}

func reportCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Read validation reports stored in Redis",
	}
	cmd.PersistentFlags().StringVarP(&format, "format", "f", "", "Report format (html, json, markdown)")

	show := func(cmd *cobra.Command, get func(ctx context.Context, rs *sink.RedisSink) (*report.Report, error)) error {
		a, err := newApp(cmd, flags)
		if err != nil {
			return err
		}
		defer a.Close()

		if format == "" {
			format = a.cfg.Report.GetFormat()
		}
		f, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		rs, err := a.redis()
		if err != nil {
			return err
		}
		r, err := get(cmd.Context(), rs)
		if err != nil {
			return err
		}
		return report.Render(cmd.OutOrStdout(), r, f)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "latest",
			Short: "Print the newest report",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return show(cmd, func(ctx context.Context, rs *sink.RedisSink) (*report.Report, error) {
					r, err := rs.Latest(ctx)
					if err == nil && r == nil {
						err = fmt.Errorf("no report has been stored")
					}
					return r, err
				})
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Print a stored report",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return show(cmd, func(ctx context.Context, rs *sink.RedisSink) (*report.Report, error) {
					return rs.Get(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "List stored report ids, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd, flags)
				if err != nil {
					return err
				}
				defer a.Close()

				rs, err := a.redis()
				if err != nil {
					return err
				}
				ids, err := rs.History(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print a line for every report as it is published",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd, flags)
				if err != nil {
					return err
				}
				defer a.Close()

				rs, err := a.redis()
				if err != nil {
					return err
				}
				events, err := rs.Subscribe(cmd.Context())
				if err != nil {
					return err
				}
				for ev := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "%s entities=%d violations=%d warnings=%d infos=%d\n",
						ev.ID, ev.Entities, ev.Violations, ev.Warnings, ev.Infos)
				}
				return nil
			},
		},
	)
	return cmd
}

// pipeline builds a pipeline over the configured descriptor. With validate
// set the constraint set is loaded too.
func (a *app) pipeline(ctx context.Context, validate bool, opts ...ldfeed.Option) (*ldfeed.Pipeline, error) {
	desc, err := a.descriptor()
	if err != nil {
		return nil, err
	}
	base := []ldfeed.Option{
		ldfeed.WithDescriptor(desc),
		ldfeed.WithLogger(a.logger),
		ldfeed.WithTracer(otel.Tracer(appName)),
		ldfeed.WithMeter(otel.Meter(appName)),
	}
	if validate {
		checker, err := a.checker(ctx)
		if err != nil {
			return nil, err
		}
		base = append(base, ldfeed.WithChecker(checker))
	}
	return ldfeed.New(ctx, append(base, opts...)...)
}

// publish sends r to the configured sinks, if any.
func (a *app) publish(ctx context.Context, r *report.Report) error {
	s, err := a.sinks()
	if err != nil || s == nil {
		return err
	}
	if err := s.Publish(ctx, r); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}
	return nil
}

func decodeFile(path string, fn func(document.Object) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := document.DecodeObjects(f, fn); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func healthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the descriptor, constraint set, catalogue and report sinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			checks := []health.Status{health.DescriptorCheck(a.cfg.Descriptor)}

			src, err := a.constraintSource()
			if err != nil {
				checks = append(checks, health.Unhealthy("constraints: "+err.Error(), nil))
			} else {
				checks = append(checks, health.ConstraintCheck(ctx, src))
			}

			if a.cfg.Source.SQLite != "" {
				checks = append(checks, health.FileCheck(a.cfg.Source.SQLite))
				if store, err := a.store(); err != nil {
					checks = append(checks, health.Unhealthy("sqlite: "+err.Error(), nil))
				} else {
					checks = append(checks, health.PingCheck(ctx, "sqlite", store))
				}
			}
			if a.cfg.Report.RedisURL != "" {
				if rs, err := a.redis(); err != nil {
					checks = append(checks, health.Unhealthy("redis: "+err.Error(), nil))
				} else {
					checks = append(checks, health.PingCheck(ctx, "redis", rs))
				}
			}

			out := cmd.OutOrStdout()
			for _, c := range checks {
				fmt.Fprintf(out, "%-9s %s\n", c.Status, c.Message)
			}
			status := health.Combine(checks...)
			fmt.Fprintf(out, "%-9s %s\n", status.Status, status.Message)
			if status.IsUnhealthy() {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}
