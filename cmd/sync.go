package cmd

import (
	"path/filepath"
	"strconv"
	"time"

	"workshop-sync/core/config"
	"workshop-sync/core/logger"
	"workshop-sync/core/steam"
	"workshop-sync/core/workshop"
	"workshop-sync/feature/sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagAppID     uint32
	flagUser      string
	flagPass      string
	flagFilters   []string
	flagLog       string
	flagAuthCache string
	flagGuard     string
	flagEmail     string
	flagAnonymous bool
)

// invocation is the parsed positional surface: either
// <id|idListFile> <outputDir> or <user> <pass> <outputDir> <id|idListFile>.
type invocation struct {
	idsArg   string
	outDir   string
	username string
	password string
}

func parseArgs(args []string) (*invocation, error) {
	switch len(args) {
	case 2:
		return &invocation{idsArg: args[0], outDir: args[1]}, nil
	case 4:
		return &invocation{username: args[0], password: args[1], outDir: args[2], idsArg: args[3]}, nil
	default:
		return nil, exitf(exitInvalidArgs, "expected 2 or 4 positional arguments, got %d", len(args))
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	inv, err := parseArgs(args)
	if err != nil {
		return err
	}

	// 1. Load configuration; flags override environment, positionals
	// override flags.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return exitf(exitInvalidArgs, "load config: %v", err)
	}
	applyOverrides(cfg, inv)

	// 2. Initialize logger.
	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return exitf(exitInvalidArgs, "create logger: %v", err)
	}
	defer logg.Sync()

	// 3. Resolve the id list.
	ids, err := sync.LoadIDs(inv.idsArg, logg)
	if err != nil {
		return exitf(exitInvalidArgs, "%v", err)
	}
	if len(ids) == 0 {
		return exitf(exitInvalidArgs, "no valid item ids in %q", inv.idsArg)
	}

	matcher, err := sync.CompileFilters(flagFilters)
	if err != nil {
		return exitf(exitInvalidArgs, "%v", err)
	}

	// 4. Establish the session. Teardown runs on every exit path.
	store, err := steam.NewTokenStore(cfg.Steam.AuthCache)
	if err != nil {
		return err
	}
	client := steam.NewClient(cfg.Steam.Client, logg)
	session := steam.NewSession(client, store, logg)
	defer session.Close()

	password := cfg.Steam.Pass
	if cfg.Steam.User != "" && password == "" && !flagAnonymous {
		if password, err = promptPassword(cfg.Steam.User); err != nil {
			return err
		}
	}
	err = session.LogOn(ctx, steam.LogonOptions{
		Username:      cfg.Steam.User,
		Password:      password,
		Anonymous:     flagAnonymous || cfg.Steam.User == "",
		Authenticator: newPromptAuthenticator(cfg.Steam.Guard, cfg.Steam.EmailGuard),
	})
	if err != nil {
		return err
	}

	executor := sync.NewExecutor(client, logg, flagAppID)
	resolver := workshop.NewResolver(cfg.Workshop)
	timeout := time.Duration(cfg.Workshop.TimeoutSeconds) * time.Second

	// 5. Single item or batch.
	if len(ids) == 1 {
		item, err := sync.ResolveSingle(ctx, resolver, ids[0], timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return exitf(exitMetadataFailed, "resolve item %d: %v", ids[0], err)
		}
		target := filepath.Join(inv.outDir, strconv.FormatUint(item.ID, 10))
		if !executor.SyncOne(ctx, item, target, matcher) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return exitf(exitSyncFailed, "sync of item %d failed", item.ID)
		}
		return nil
	}

	pipeline := sync.NewPipeline(resolver, executor, matcher, clockwork.NewRealClock(), logg)
	result := pipeline.Run(ctx, ids, inv.outDir)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if result.Failed() {
		logg.Error("Batch completed with failures", zap.Uint64s("failed_ids", result.FailedIDs))
		return exitf(exitBatchFailed, "%d of %d items failed", len(result.FailedIDs), result.Attempted)
	}
	return nil
}

// applyOverrides layers flag values over environment configuration and
// positional credentials over both.
func applyOverrides(cfg *config.Config, inv *invocation) {
	if flagUser != "" {
		cfg.Steam.User = flagUser
	}
	if flagPass != "" {
		cfg.Steam.Pass = flagPass
	}
	if flagGuard != "" {
		cfg.Steam.Guard = flagGuard
	}
	if flagEmail != "" {
		cfg.Steam.EmailGuard = flagEmail
	}
	if flagAuthCache != "" {
		cfg.Steam.AuthCache = flagAuthCache
	}
	if flagLog != "" {
		cfg.Log.File = flagLog
	}
	if inv.username != "" {
		cfg.Steam.User = inv.username
		cfg.Steam.Pass = inv.password
	}
}
