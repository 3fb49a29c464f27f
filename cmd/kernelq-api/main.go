package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/notekit/kernelq/pkg/cmd"
	"github.com/notekit/kernelq/pkg/config"
	"github.com/notekit/kernelq/pkg/coordinator"
	"github.com/notekit/kernelq/pkg/kernel"
	"github.com/notekit/kernelq/pkg/kernel/echo"
	"github.com/notekit/kernelq/pkg/log"
	"github.com/notekit/kernelq/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "kernelq-api",
		EnableShellCompletion: true,
		Usage:                 "Serve the kernelq execution API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file; explicit flags override it",
				Value:   "",
				Sources: cli.EnvVars("KERNELQ_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "service-id",
				Usage:   "Custom service ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("KERNELQ_SERVICE_ID"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP port to listen on",
				Value:   9090,
				Sources: cli.EnvVars("KERNELQ_PORT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel, none)",
				Value:   "gochannel",
				Sources: cli.EnvVars("KERNELQ_EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "persistence-url",
				Usage:   "Resume store URL (file://..., redis://...); empty disables resume",
				Value:   "",
				Sources: cli.EnvVars("KERNELQ_PERSISTENCE_URL"),
			},
			&cli.StringFlag{
				Name:    "connection-file",
				Usage:   "Kernel connection file to validate at startup",
				Value:   "",
				Sources: cli.EnvVars("KERNELQ_CONNECTION_FILE"),
			},
			&cli.DurationFlag{
				Name:    "echo-delay",
				Usage:   "Simulated computation time of the built-in echo kernel",
				Value:   100 * time.Millisecond,
				Sources: cli.EnvVars("KERNELQ_ECHO_DELAY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("KERNELQ_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("KERNELQ_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("KERNELQ_LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := resolveConfig(command)
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			serviceID := cfg.ServiceID
			logger := log.WithModule("kernelq-api").With("service_id", serviceID)
			logger.InfoContext(ctx, "Initializing kernelq API")

			eventBus, err := cmd.NewEventBus(cfg.EventBus, logger)
			if err != nil {
				return err
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			store, err := cmd.NewResumeStore(cfg.PersistenceURL, logger)
			if err != nil {
				return err
			}

			if store != nil {
				defer func() {
					if err := store.Close(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to close resume store", "error", err)
					}
				}()
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, serviceID)
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
			}

			if cfg.ConnectionFile != "" {
				info, err := kernel.LoadConnectionFile(cfg.ConnectionFile)
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Validated kernel connection file",
					"transport", info.Transport,
					"ip", info.IP,
					"shell_port", info.ShellPort,
				)
			}

			provider := &echo.Provider{Delay: command.Duration("echo-delay")}

			coord := coordinator.NewCoordinator(provider, store, eventBus, logger)
			defer coord.Close()

			api := NewAPI(logger, coord, tracer)

			addr := fmt.Sprintf(":%d", cfg.Port)
			logger.InfoContext(ctx, "Listening", "addr", addr)

			return api.App().Listen(addr)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("kernelq-api").Error("Failed to run kernelq API", "error", err)
		os.Exit(1)
	}
}

// resolveConfig merges the optional YAML config file with the command line;
// explicit flags (and their environment sources) win over the file.
func resolveConfig(command *cli.Command) (config.Config, error) {
	cfg := config.Defaults()
	cfg.ServiceID = ""

	if path := command.String("config"); path != "" {
		loaded, err := config.FromFile(path)
		if err != nil {
			return config.Config{}, err
		}

		cfg = loaded
	}

	if v := command.String("service-id"); v != "" {
		cfg.ServiceID = v
	}

	if command.IsSet("event-bus") {
		cfg.EventBus = command.String("event-bus")
	}

	if command.IsSet("persistence-url") {
		cfg.PersistenceURL = command.String("persistence-url")
	}

	if command.IsSet("connection-file") {
		cfg.ConnectionFile = command.String("connection-file")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	if command.IsSet("log-format") {
		cfg.LogFormat = command.String("log-format")
	}

	if command.IsSet("port") {
		cfg.Port = int(command.Int("port"))
	}

	if cfg.ServiceID == "" {
		cfg.ServiceID = "kernelq-" + uuid.New().String()[:8]
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}
