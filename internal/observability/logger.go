package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger writes human-readable lines for commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger writes structured entries for serve (STRUCTURED profile).
	ServerLogger *logging.Logger
)

// ServerLogOptions configures InitServerLogger.
type ServerLogOptions struct {
	Service string
	// Level is trace, debug, info, warn or error; anything else is info.
	Level string
	// Format is json or console.
	Format      string
	Environment string
	// Namespace, when set, is attached to every entry.
	Namespace string
	// Fields are attached to every entry, such as the configured limits.
	Fields map[string]any
}

// Logger returns the server logger when one is running, otherwise the CLI
// logger. It may return nil before either is initialized.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

// InitCLILogger builds CLILogger. verbose lowers the level to debug.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger builds ServerLogger with request correlation enabled.
func InitServerLogger(opts ServerLogOptions) {
	logger, err := logging.New(serverLoggerConfig(opts))
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

func serverLoggerConfig(opts ServerLogOptions) *logging.LoggerConfig {
	static := make(map[string]any, len(opts.Fields)+1)
	for k, v := range opts.Fields {
		static[k] = v
	}
	if opts.Namespace != "" {
		static["namespace"] = opts.Namespace
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "console" {
		format = "json"
	}
	env := opts.Environment
	if env == "" {
		env = "production"
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: levelName(opts.Level),
		Service:      opts.Service,
		Environment:  env,
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  format,
				Console: &logging.ConsoleSinkConfig{Stream: "stderr", Colorize: format == "console"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

func levelName(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// fatal reports a logger construction failure on stderr and exits.
func fatal(code foundry.ExitCode, msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	os.Exit(int(code))
}
