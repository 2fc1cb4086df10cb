package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pay-theory/relorm"
	"github.com/pay-theory/relorm/pkg/batch"
	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/export"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/session"
)

type rootOptions struct {
	configPath string
	schemaFile string
	cfg        *session.Config
}

// relationFlags describe a relation on the command line
type relationFlags struct {
	where      []string
	joins      []string
	leftJoins  []string
	includes   []string
	preloads   []string
	eagerLoads []string
	scopes     []string
	order      []string
	limit      int
	offset     int
	unscoped   bool
}

func (f *relationFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVar(&f.where, "where", nil, "equality condition column=value, repeatable")
	flags.StringArrayVar(&f.joins, "joins", nil, "association to INNER JOIN, dotted for nesting")
	flags.StringArrayVar(&f.leftJoins, "left-joins", nil, "association to LEFT OUTER JOIN")
	flags.StringArrayVar(&f.includes, "includes", nil, "association to include")
	flags.StringArrayVar(&f.preloads, "preload", nil, "association to preload with separate queries")
	flags.StringArrayVar(&f.eagerLoads, "eager-load", nil, "association to load in one joined query")
	flags.StringArrayVar(&f.scopes, "scope", nil, "named scope to apply")
	flags.StringArrayVar(&f.order, "order", nil, "order term such as \"posts.id desc\"")
	flags.IntVar(&f.limit, "limit", -1, "LIMIT")
	flags.IntVar(&f.offset, "offset", -1, "OFFSET")
	flags.BoolVar(&f.unscoped, "unscoped", false, "drop the default scope")
}

// build applies the flags to a relation on typeName
func (f *relationFlags) build(db *relorm.DB, typeName string) (*relorm.Relation, error) {
	rel := db.Model(typeName)
	if f.unscoped {
		rel = rel.Unscoped()
	}
	for _, name := range f.scopes {
		rel = rel.Scope(name)
	}
	if len(f.where) > 0 {
		attrs := make(map[string]any, len(f.where))
		for _, w := range f.where {
			column, value, ok := strings.Cut(w, "=")
			if !ok || strings.TrimSpace(column) == "" {
				return nil, fmt.Errorf("invalid --where %q, expected column=value", w)
			}
			attrs[strings.TrimSpace(column)] = parseValue(value)
		}
		rel = rel.Where(condition.Hash(attrs))
	}
	for _, j := range f.joins {
		rel = rel.Joins(associationInput(j))
	}
	for _, j := range f.leftJoins {
		rel = rel.LeftJoins(associationInput(j))
	}
	for _, i := range f.includes {
		rel = rel.Includes(associationInput(i))
	}
	for _, p := range f.preloads {
		rel = rel.Preload(associationInput(p))
	}
	for _, e := range f.eagerLoads {
		rel = rel.EagerLoad(associationInput(e))
	}
	if len(f.order) > 0 {
		rel = rel.OrderBy(f.order...)
	}
	if f.limit >= 0 {
		rel = rel.Limit(f.limit)
	}
	if f.offset >= 0 {
		rel = rel.Offset(f.offset)
	}
	return rel, rel.Err()
}

// associationInput turns "posts.comments" into {"posts": "comments"}
func associationInput(path string) any {
	parts := strings.Split(path, ".")
	var input any = parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		input = map[string]any{parts[i]: input}
	}
	return input
}

// parseValue reads null, booleans and integers, leaving anything else a string
func parseValue(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "relorm",
		Short:         "Inspect and run relorm relations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := session.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.schemaFile != "" {
				cfg.SchemaFile = opts.schemaFile
			}
			logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&opts.schemaFile, "schema", "", "schema file, overrides the config")

	root.AddCommand(
		newTypesCmd(opts),
		newSQLCmd(opts),
		newPlanCmd(opts),
		newCountCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// offline returns a DB over the schema that never touches a database
func (o *rootOptions) offline() (*relorm.DB, error) {
	registry := model.NewRegistry()
	if o.cfg.SchemaFile == "" {
		return nil, fmt.Errorf("a schema file is required")
	}
	if err := registry.LoadSchemaFile(o.cfg.SchemaFile); err != nil {
		return nil, err
	}
	return relorm.New(registry, nil, relorm.WithLogger(logger.Get())), nil
}

func newTypesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the types and associations of the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.offline()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range db.Registry().Types() {
				typ, err := db.Registry().Type(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", typ.Name, typ.Table, strings.Join(typ.PrimaryKey, ","))
				for _, a := range typ.Associations() {
					fmt.Fprintf(w, "  %s\t%s\t%s\n", a.Name, a.Kind, a.Target)
				}
			}
			return w.Flush()
		},
	}
}

func newSQLCmd(opts *rootOptions) *cobra.Command {
	flags := &relationFlags{}
	cmd := &cobra.Command{
		Use:   "sql TYPE",
		Short: "Print the SQL and bind values of a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.offline()
			if err != nil {
				return err
			}
			rel, err := flags.build(db, args[0])
			if err != nil {
				return err
			}
			sql, params, err := rel.ToSQL()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sql)
			if len(params) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "-- params: %v\n", params)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	flags := &relationFlags{}
	cmd := &cobra.Command{
		Use:   "plan TYPE",
		Short: "Show how each included association would be loaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.offline()
			if err != nil {
				return err
			}
			rel, err := flags.build(db, args[0])
			if err != nil {
				return err
			}
			decisions, err := rel.Plan()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range decisions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Spec.String(), d.Strategy, strings.Join(d.Tables, ","))
			}
			return w.Flush()
		},
	}
	flags.register(cmd)
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	flags := &relationFlags{}
	cmd := &cobra.Command{
		Use:   "count TYPE",
		Short: "Count the rows of a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := relorm.Connect(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rel, err := flags.build(db, args[0])
			if err != nil {
				return err
			}
			n, err := rel.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	flags := &relationFlags{}
	var (
		bucket, prefix string
		account        export.AccountConfig
		size           int
	)
	cmd := &cobra.Command{
		Use:   "export TYPE",
		Short: "Export a relation to S3 as NDJSON, one object per batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := relorm.Connect(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rel, err := flags.build(db, args[0])
			if err != nil {
				return err
			}
			client, err := export.NewS3Client(ctx, account)
			if err != nil {
				return err
			}
			if size <= 0 {
				size = opts.cfg.BatchSize
			}
			exporter := export.New(client, export.Config{
				Bucket: bucket,
				Prefix: prefix,
				Batch:  batch.Config{Size: size, Columns: rel.Type().PrimaryKey},
			}, export.WithLogger(logger.Get()))
			result, err := exporter.Export(ctx, db.Executor(), rel.Query())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d rows in %d objects\n", result.RunID, result.Rows, len(result.Objects))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix")
	cmd.Flags().StringVar(&account.Region, "region", "", "AWS region")
	cmd.Flags().StringVar(&account.RoleARN, "role-arn", "", "role to assume for the upload")
	cmd.Flags().StringVar(&account.ExternalID, "external-id", "", "external ID for the assumed role")
	cmd.Flags().IntVar(&size, "batch-size", 0, "rows per object, defaults to the configured batch size")
	return cmd
}
