package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/stagegraph/stagegraph/internal/config"
	"github.com/stagegraph/stagegraph/internal/httpapi"
	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/store"
)

// CLI is control-plane's flag surface (spec.md §6.4: "control-plane --host
// --port --debug").
type CLI struct {
	Host   string `help:"Bind host." default:"0.0.0.0"`
	Port   int    `help:"Bind port. Overrides config/env PORT if set." default:"0"`
	Config string `help:"Path to a TOML config file." type:"path"`
	Debug  bool   `help:"Enable verbose logging." default:"false"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("control-plane"),
		kong.Description("stagegraph control plane: object store, invocation dispatcher, PR check engine."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.Port != 0 {
		cfg.Port = cli.Port
	}
	if cli.Debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blob, err := openBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	srv := httpapi.New(httpapi.Config{
		DB:           db,
		Blob:         blob,
		Addr:         fmt.Sprintf("%s:%d", cli.Host, cfg.Port),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	closer := newCloser()
	go closer.listenSignal(context.Background(), srv)
	logrus.Infof("control-plane listening on %s:%d", cli.Host, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-closer.ch
	logrus.Infof("control-plane exited")
	return nil
}

// openDB selects sqlite vs mysql by DSN prefix: "mysql://" picks MySQL
// (prefix stripped before handing the driver its DSN), anything else is a
// sqlite file path — the same config-value-as-DSN pattern the teacher's
// pkg/serve/database package uses for its store backends.
func openDB(dsn string) (*store.DB, error) {
	if dsn == "" {
		dsn = "./stagegraph.db"
	}
	if rest, ok := strings.CutPrefix(dsn, "mysql://"); ok {
		return store.OpenMySQL(rest)
	}
	return store.OpenSQLite(dsn)
}

func openBlobStore(cfg *config.Config) (objstore.Store, error) {
	if cfg.UsesObjectStore() {
		return objstore.NewS3Store(context.Background(), cfg.S3Bucket, os.Getenv("AWS_REGION"), os.Getenv("S3_ENDPOINT"))
	}
	return objstore.NewFilesystemStore(cfg.StorageBasePath, true)
}
