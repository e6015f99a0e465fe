package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/stagegraph/stagegraph/internal/worker"
)

// CLI is worker's flag surface (spec.md §6.4: "worker --server-url
// --worker-id? --poll-interval N").
type CLI struct {
	ServerURL    string        `help:"Control plane base URL." required:"" name:"server-url"`
	WorkerID     string        `help:"Worker identity; random if unset." name:"worker-id"`
	PollInterval time.Duration `help:"Interval between poll cycles." default:"2s" name:"poll-interval"`
	Concurrency  int64         `help:"Max calls executed in parallel." default:"4"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("worker"),
		kong.Description("stagegraph worker: polls for pending invocations and executes registered stage functions."),
		kong.UsageOnError(),
	)

	w := worker.New(worker.Config{
		ServerURL:    cli.ServerURL,
		WorkerID:     cli.WorkerID,
		PollInterval: cli.PollInterval,
		Concurrency:  cli.Concurrency,
	}, worker.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-quit
		logrus.Infof("worker received signal: %v, exiting...", sig)
		cancel()
	}()

	logrus.Infof("worker polling %s every %v", cli.ServerURL, cli.PollInterval)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.Fatalf("worker: %v", err)
	}
}
