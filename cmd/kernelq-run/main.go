// Package main provides a small CLI that pushes code through a document's
// execution queue and streams the resulting output deltas to stdout. Useful
// for exercising the queueing layer end to end without an editor attached.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/notekit/kernelq/pkg/coordinator"
	"github.com/notekit/kernelq/pkg/execution"
	"github.com/notekit/kernelq/pkg/kernel/echo"
	"github.com/notekit/kernelq/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "kernelq-run",
		EnableShellCompletion: true,
		Usage:                 "Run code through an execution queue and stream its outputs",
		ArgsUsage:             "CODE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "document-id",
				Usage:   "Document the executions belong to",
				Value:   "",
				Sources: cli.EnvVars("KERNELQ_DOCUMENT_ID"),
			},
			&cli.DurationFlag{
				Name:    "echo-delay",
				Usage:   "Simulated computation time of the built-in echo kernel",
				Value:   50 * time.Millisecond,
				Sources: cli.EnvVars("KERNELQ_ECHO_DELAY"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abandon waiting after this long (zero waits forever)",
				Value: 0,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("KERNELQ_LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kernelq-run:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), "text")

	codes := command.Args().Slice()
	if len(codes) == 0 {
		return errors.New("no code given")
	}

	documentID := command.String("document-id")
	if documentID == "" {
		documentID = "doc-" + uuid.New().String()[:8]
	}

	if timeout := command.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)

		defer cancel()
	}

	provider := &echo.Provider{Delay: command.Duration("echo-delay")}
	coord := coordinator.NewCoordinator(provider, nil, nil, log.WithModule("kernelq-run"))

	defer coord.Close()

	// Enqueue everything up front; the queue serializes the executions.
	requests := make([]*execution.Request, 0, len(codes))

	for _, code := range codes {
		req, err := coord.ExecuteCode(ctx, documentID, code, "cli")
		if err != nil {
			return err
		}

		requests = append(requests, req)
	}

	for _, req := range requests {
		for delta := range req.Stream(ctx) {
			switch {
			case delta.Text != "":
				fmt.Printf("[%s] %s %s\n", req.ID, delta.Channel, delta.Text)
			default:
				fmt.Printf("[%s] %s %v\n", req.ID, delta.Channel, delta.Data)
			}
		}

		res, ok := req.Result()
		if !ok {
			return fmt.Errorf("wait for %s ended early: %w", req.ID, ctx.Err())
		}

		fmt.Printf("[%s] %s\n", req.ID, res.State)

		if res.Err != nil {
			return res.Err
		}
	}

	return nil
}
