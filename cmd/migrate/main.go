package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/supermarket-backend/pkg/bootstrap"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up                apply pending migrations
  down              roll back the latest migration
  to <version>      move the schema to version (YYYYMMDDHHMMSS)
  status            list migrations and when they were applied
  create <name>     write an empty migration into -dir
  validate          check migration names and goose markers in -dir
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(context.Background(), *dir, flag.Args()); err != nil {
		logger.Bootstrap("migrate").Error(context.Background(), "migrate.failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]

	// Authoring commands touch files only.
	switch cmd {
	case "create":
		if len(rest) != 1 {
			return errors.New("create takes exactly one name")
		}
		target := dir
		if target == "" {
			target = migrate.SourceDir
		}
		path, err := migrate.Create(target, rest[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.Validate(source(dir)); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	cfg, logg, err := bootstrap.Configure("migrate")
	if err != nil {
		return err
	}
	dialect := migrate.DialectFor(cfg.DB)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd, "dialect": dialect})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, dialect, source(dir))
	if err != nil {
		return err
	}

	var results []*goose.MigrationResult
	switch cmd {
	case "up":
		results, err = m.Up(ctx)
	case "down":
		var res *goose.MigrationResult
		if res, err = m.Down(ctx); res != nil {
			results = append(results, res)
		}
	case "to":
		if len(rest) != 1 {
			return errors.New("to takes exactly one version")
		}
		version, perr := strconv.ParseInt(rest[0], 10, 64)
		if perr != nil {
			return fmt.Errorf("version %q: %w", rest[0], perr)
		}
		results, err = m.To(ctx, version)
	case "status":
		return printStatus(ctx, m)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	for _, res := range results {
		fmt.Printf("%-4s %d %s (%s)\n", res.Direction, res.Source.Version, res.Source.Path, res.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "version", version), "migrate.done")
	return nil
}

func source(dir string) fs.FS {
	if dir == "" {
		return migrate.Embedded()
	}
	return os.DirFS(dir)
}

func printStatus(ctx context.Context, m *migrate.Migrator) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return tw.Flush()
}
