package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"workshop-sync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes reported to the caller.
const (
	exitOK             = 0
	exitUnhandled      = 1
	exitInvalidArgs    = 2
	exitMetadataFailed = 3
	exitSyncFailed     = 4
	exitBatchFailed    = 5
	exitCancelled      = 130
)

// exitError carries a specific process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "workshop-sync <id|idListFile> <outputDir>",
	Short: "Workshop item downloader",
	Long: `workshop-sync downloads Steam workshop items into local directories,
reusing unchanged local files and replacing each target directory only after
a complete, verified download.

Invocations:
  workshop-sync <id|idListFile> <outputDir>
  workshop-sync <user> <pass> <outputDir> <id|idListFile>`,
	Args:          cobra.RangeArgs(2, 4),
	RunE:          runSync,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := RootCmd.Flags()
	f.Uint32Var(&flagAppID, "appid", 0, "Override the app id used for depot resolution")
	f.StringVar(&flagUser, "user", "", "Account name for credential logon")
	f.StringVar(&flagPass, "pass", "", "Account password for credential logon")
	f.StringArrayVar(&flagFilters, "filter", nil, "Glob pattern selecting files to sync (repeatable)")
	f.StringVar(&flagLog, "log", "", "Tee log output into this file")
	f.StringVar(&flagAuthCache, "auth-cache", "", "Auth cache file location")
	f.StringVar(&flagGuard, "guard", "", "Mobile authenticator code")
	f.StringVar(&flagEmail, "email", "", "Email guard code")
	f.BoolVar(&flagAnonymous, "anonymous", false, "Log on anonymously")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := RootCmd.ExecuteContext(ctx)
	if err == nil {
		os.Exit(exitOK)
	}

	// Use the application's standard logger for error reporting; console
	// format matches user expectations for a CLI tool.
	cfg := &logger.Config{Level: "debug", Format: "console"}
	if l, logErr := logger.New(cfg); logErr == nil {
		l.Error("command failed", zap.Error(err))
		_ = l.Sync()
	} else {
		fmt.Fprintln(os.Stderr, err)
	}

	os.Exit(exitCodeFor(ctx, err))
}

func exitCodeFor(ctx context.Context, err error) int {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return exitCancelled
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUnhandled
}
