package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/stagegraph/stagegraph/internal/client"
)

// CLI is kickoff's flag surface (spec.md §6.4: "kickoff --repo --commit
// --file --function --control-plane").
type CLI struct {
	ControlPlane string `help:"Control plane base URL." required:"" name:"control-plane"`
	Repo         string `help:"Repository name." required:""`
	Commit       string `help:"Commit hash to execute against." required:""`
	File         string `help:"Workflow file path." required:"" name:"file"`
	Function     string `help:"Stage function name." required:""`
	Args         string `help:"JSON array of positional arguments." default:"[]"`
	Kwargs       string `help:"JSON object of keyword arguments." default:"{}"`
	PollInterval time.Duration `help:"Poll interval while waiting for completion." default:"500ms" name:"poll-interval"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("kickoff"),
		kong.Description("stagegraph kickoff: create a root invocation and wait for it to complete."),
		kong.UsageOnError(),
	)

	var args []any
	if err := json.Unmarshal([]byte(cli.Args), &args); err != nil {
		fmt.Fprintf(os.Stderr, "kickoff: --args: invalid JSON: %v\n", err)
		os.Exit(1)
	}
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(cli.Kwargs), &kwargs); err != nil {
		fmt.Fprintf(os.Stderr, "kickoff: --kwargs: invalid JSON: %v\n", err)
		os.Exit(1)
	}

	if err := run(&cli, args, kwargs); err != nil {
		fmt.Fprintf(os.Stderr, "kickoff: %v\n", err)
		os.Exit(1)
	}
}

func run(cli *CLI, args []any, kwargs map[string]any) error {
	ctx := context.Background()
	cp := client.New(cli.ControlPlane)

	id, err := cp.CreateCall(ctx, client.CreateCallRequest{
		FunctionName: cli.Function,
		Arguments:    client.CallArguments{Args: args, Kwargs: kwargs},
		RepoName:     cli.Repo,
		CommitHash:   cli.Commit,
		WorkflowFile: cli.File,
	})
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	fmt.Fprintf(os.Stderr, "invocation %s created, waiting...\n", id)

	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithAutoRefresh())
	name := fmt.Sprintf("%s::%s", cli.File, cli.Function)
	bar := p.New(-1,
		mpb.BarStyle().Filler("#").Padding(" "),
		mpb.PrependDecorators(decor.Name(name)),
		mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
	)

	ticker := time.NewTicker(cli.PollInterval)
	defer ticker.Stop()
	for {
		state, err := cp.GetCall(ctx, id)
		if err != nil {
			bar.Abort(true)
			p.Wait()
			return fmt.Errorf("poll call %s: %w", id, err)
		}
		switch state.Status {
		case "COMPLETED":
			bar.SetTotal(-1, true)
			p.Wait()
			out, _ := json.MarshalIndent(state.ResultValue, "", "  ")
			fmt.Println(string(out))
			return nil
		case "FAILED":
			bar.Abort(true)
			p.Wait()
			return fmt.Errorf("invocation %s failed: %s", id, state.ErrorMessage)
		}
		bar.Increment()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
