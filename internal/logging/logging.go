package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "jira-reporter.log"

// Init points the global logger at stderr and a rotating file in Dir().
// It exits when the directory cannot be created.
func Init(verbose bool) {
	// LOGS_FOLDER may be set in the .env next to the binary; Init runs before config.Load.
	if exe, err := os.Executable(); err == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exe), ".env"))
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create log directory %q: %v\n", dir, err)
		os.Exit(1)
	}

	log.Logger = New(console(os.Stderr), rotating(dir))
}

// Dir is LOGS_FOLDER, or "logs" next to the executable.
func Dir() string {
	if dir := os.Getenv("LOGS_FOLDER"); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "logs"
	}
	return filepath.Join(filepath.Dir(exe), "logs")
}

func console(f *os.File) io.Writer {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: !tty}
}

func rotating(dir string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    16, // megabytes
		MaxBackups: 32,
		MaxAge:     365, // days
		Compress:   true,
	}
}

// New returns a timestamped logger writing to all of the given writers.
func New(writers ...io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger()
}

// WithRun tags every following line of the global logger with a run id.
func WithRun(id string) {
	log.Logger = log.With().Str("run", id).Logger()
}
