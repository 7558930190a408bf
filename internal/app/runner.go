// Package app wires the CLI surface: flag parsing, configuration, adapter
// construction, and envelope rendering around the aggregation core.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/adapters/dexv3"
	"github.com/ncastellan/flare-portfolio/internal/adapters/stability"
	"github.com/ncastellan/flare-portfolio/internal/adapters/staking"
	"github.com/ncastellan/flare-portfolio/internal/adapters/tokens"
	"github.com/ncastellan/flare-portfolio/internal/adapters/vault"
	"github.com/ncastellan/flare-portfolio/internal/aggregate"
	"github.com/ncastellan/flare-portfolio/internal/chain"
	"github.com/ncastellan/flare-portfolio/internal/compare"
	"github.com/ncastellan/flare-portfolio/internal/config"
	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
	"github.com/ncastellan/flare-portfolio/internal/httpx"
	"github.com/ncastellan/flare-portfolio/internal/id"
	"github.com/ncastellan/flare-portfolio/internal/logging"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/out"
	"github.com/ncastellan/flare-portfolio/internal/pricecache"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/ncastellan/flare-portfolio/internal/store"
	"github.com/ncastellan/flare-portfolio/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// newAdapters builds the position sources; tests substitute fakes.
	newAdapters func(settings config.Settings, log zerolog.Logger) ([]adapters.Adapter, func(), error)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	r := &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
	r.newAdapters = r.realAdapters
	return r
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	log          zerolog.Logger
	lastCommand  string
	lastWarnings []string
	lastSources  []model.SourceStatus
	lastPartial  bool

	adapterList []adapters.Adapter
	closeFn     func()
	snapshots   *store.Store
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.closeFn != nil {
		state.closeFn()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName + " [address]",
		Short: "Portfolio snapshot and performance tracking for Flare accounts",
		Args:  cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logging.New(s.runner.stderr, settings.LogLevel)
			s.lastCommand = commandName(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSnapshot(argOrEmpty(args))
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Flare RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Overall command timeout")
	cmd.PersistentFlags().StringVar(&s.flags.AdapterTimeout, "adapter-timeout", "", "Per-source fetch timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per HTTP price request")
	cmd.PersistentFlags().StringVar(&s.flags.DataDir, "data-dir", "", "Snapshot history directory")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the price cache")
	cmd.PersistentFlags().BoolVar(&s.flags.NoPrices, "no-prices", false, "Skip USD valuation")
	cmd.PersistentFlags().StringVar(&s.flags.Categories, "categories", "", "Restrict to categories (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newTrackCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newCompareCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newTrackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "track [address]",
		Short: "Build a snapshot and append it to the history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runTrack(argOrEmpty(args))
		},
	}
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var sinceArg string
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "List recorded snapshots, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runHistory(argOrEmpty(args), sinceArg)
		},
	}
	cmd.Flags().StringVar(&sinceArg, "since", "30d", "Lookback window (e.g. 7d, 24h)")
	return cmd
}

func (s *runtimeState) newCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <offset> [address]",
		Short: "Compare the live portfolio against a historical snapshot",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := ""
			if len(args) > 1 {
				address = args[1]
			}
			return s.runCompare(args[0], address)
		},
	}
}

// realAdapters dials the chain and assembles the production adapter set
// with the FTSO-first, HTTP-failover, cache-fronted valuation provider.
func (r *Runner) realAdapters(settings config.Settings, log zerolog.Logger) ([]adapters.Adapter, func(), error) {
	client, err := chain.Dial(context.Background(), settings.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	var provider pricing.Provider = pricing.NewFallback(
		pricing.NewFTSO(client),
		pricing.NewLlama(httpClient),
	)

	var cacheStore *pricecache.Store
	if settings.CacheEnabled {
		cacheStore, err = pricecache.Open(settings.PriceCachePath, settings.PriceCacheLockPath)
		if err != nil {
			log.Warn().Err(err).Msg("price cache unavailable, continuing without it")
			cacheStore = nil
		} else {
			provider = pricing.NewCached(provider, cacheStore, settings.PriceCacheTTL, log)
		}
	}

	list := []adapters.Adapter{
		tokens.New(client, provider),
		dexv3.New(client, provider),
		stability.New(client, provider),
		vault.New(client, provider),
		staking.New(client, provider),
	}
	closeFn := func() {
		client.Close()
		if cacheStore != nil {
			_ = cacheStore.Close()
		}
	}
	return list, closeFn, nil
}

func (s *runtimeState) ensureAggregator() (*aggregate.Aggregator, error) {
	if s.adapterList == nil {
		list, closeFn, err := s.runner.newAdapters(s.settings, s.log)
		if err != nil {
			return nil, err
		}
		s.adapterList = list
		s.closeFn = closeFn
	}
	return aggregate.New(s.adapterList, s.settings.AdapterTimeout, s.log), nil
}

func (s *runtimeState) ensureStore() (*store.Store, error) {
	if s.snapshots == nil {
		snapshots, err := store.Open(s.settings.DataDir)
		if err != nil {
			return nil, err
		}
		s.snapshots = snapshots
	}
	return s.snapshots, nil
}

func (s *runtimeState) snapshotOptions() (aggregate.Options, error) {
	opts := aggregate.DefaultOptions()
	opts.IncludePrices = s.settings.IncludePrices
	for _, raw := range s.settings.Categories {
		category, ok := model.ParseCategory(raw)
		if !ok {
			return aggregate.Options{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown category %q", raw))
		}
		opts.Categories = append(opts.Categories, category)
	}
	return opts, nil
}

func (s *runtimeState) resolveAddress(input string) (string, error) {
	candidate, err := s.settings.ResolveAddress(input)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "resolve address", err)
	}
	return id.NormalizeAddress(candidate)
}

func (s *runtimeState) buildSnapshot(address string) (model.PortfolioSnapshot, []model.SourceStatus, error) {
	opts, err := s.snapshotOptions()
	if err != nil {
		return model.PortfolioSnapshot{}, nil, err
	}
	aggregator, err := s.ensureAggregator()
	if err != nil {
		return model.PortfolioSnapshot{}, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	snap, statuses, err := aggregator.BuildSnapshot(ctx, address, opts)
	s.captureDiagnostics(snap.Warnings, statuses, len(snap.UnavailableCategories) > 0)
	return snap, statuses, err
}

func (s *runtimeState) runSnapshot(addressArg string) error {
	address, err := s.resolveAddress(addressArg)
	if err != nil {
		return err
	}
	snap, statuses, err := s.buildSnapshot(address)
	if err != nil {
		return err
	}
	if aggregate.AllUnavailable(snap, statuses) {
		return clierr.New(clierr.CodeUnavailable, "every position source is unavailable")
	}
	return s.emitSuccess("snapshot", snap, snap.Warnings, statuses, len(snap.UnavailableCategories) > 0)
}

func (s *runtimeState) runTrack(addressArg string) error {
	address, err := s.resolveAddress(addressArg)
	if err != nil {
		return err
	}
	snap, statuses, err := s.buildSnapshot(address)
	if err != nil {
		return err
	}
	if aggregate.AllUnavailable(snap, statuses) {
		// An all-failure snapshot would record a spurious zero balance.
		return clierr.New(clierr.CodeUnavailable, "every position source is unavailable; not recording an empty snapshot")
	}

	snapshots, err := s.ensureStore()
	if err != nil {
		return err
	}
	record := model.RecordFromSnapshot(snap)
	if err := snapshots.Append(record); err != nil {
		return err
	}
	return s.emitSuccess("track", record, snap.Warnings, statuses, len(snap.UnavailableCategories) > 0)
}

func (s *runtimeState) runHistory(addressArg, sinceArg string) error {
	address, err := s.resolveAddress(addressArg)
	if err != nil {
		return err
	}
	lookback, err := id.ParseOffset(sinceArg)
	if err != nil {
		return err
	}
	snapshots, err := s.ensureStore()
	if err != nil {
		return err
	}
	records, err := snapshots.ListSince(address, s.runner.now().Add(-lookback))
	if err != nil {
		return err
	}
	return s.emitSuccess("history", records, nil, nil, false)
}

func (s *runtimeState) runCompare(offsetArg, addressArg string) error {
	address, err := s.resolveAddress(addressArg)
	if err != nil {
		return err
	}
	offset, err := id.ParseOffset(offsetArg)
	if err != nil {
		return err
	}
	opts, err := s.snapshotOptions()
	if err != nil {
		return err
	}
	aggregator, err := s.ensureAggregator()
	if err != nil {
		return err
	}
	snapshots, err := s.ensureStore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	comparator := compare.New(aggregator, snapshots)
	result, statuses, err := comparator.Compare(ctx, address, offset, opts)
	s.captureDiagnostics(nil, statuses, false)
	if err != nil {
		return err
	}
	return s.emitSuccess("compare", result, nil, statuses, false)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, sources []model.SourceStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Sources:   sources,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		switch cErr.Code {
		case clierr.CodeUsage:
			typ = "usage_error"
		case clierr.CodeRateLimited:
			typ = "rate_limited"
		case clierr.CodeUnavailable:
			typ = "source_unavailable"
		case clierr.CodeStorage:
			typ = "storage_error"
		case clierr.CodeNoBaseline:
			typ = "no_baseline"
		case clierr.CodeNoCurrent:
			typ = "no_current"
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: s.lastWarnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Sources:   s.lastSources,
			Partial:   s.lastPartial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) captureDiagnostics(warnings []string, sources []model.SourceStatus, partial bool) {
	s.lastWarnings = warnings
	s.lastSources = sources
	s.lastPartial = partial
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func commandName(cmd *cobra.Command) string {
	if cmd.Name() == version.CLIName {
		return "snapshot"
	}
	return cmd.Name()
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"unknown command", "unknown flag", "accepts at most", "accepts between", "requires at least"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
