package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rappterbook/rappterd/internal/config"
	"github.com/rappterbook/rappterd/internal/content"
	"github.com/rappterbook/rappterd/internal/digest"
	"github.com/rappterbook/rappterd/internal/discussions"
	"github.com/rappterbook/rappterd/internal/feeds"
	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/llm"
	"github.com/rappterbook/rappterd/internal/reconcile"
	"github.com/rappterbook/rappterd/internal/reconciler"
	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// app is the per-invocation runtime shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
	runID  string
	store  *state.Store
	tracer *telemetry.Provider
}

// newApp loads the configuration, opens the state directory and starts
// tracing. Callers must call close.
func (o *RootOptions) newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(o.ConfigPath, o.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.StateDir != "" {
		cfg.StateDir = o.StateDir
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	var ids RunIDGenerator = UUIDv7Generator{}
	if o.RunIDs != nil {
		ids = o.RunIDs
	}

	store, err := state.Open(cfg.StateDir)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open state directory", err)
	}
	tracer, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start tracing", err)
	}

	a := &app{cfg: cfg, logger: logger, now: now, runID: ids.Generate(), store: store, tracer: tracer}
	logger.Debug("invocation started", "run_id", a.runID, "state_dir", cfg.StateDir)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("flush traces", "error", err)
	}
}

func (a *app) openQueue() (inbox.Queue, error) {
	q, err := inbox.Open(a.cfg.InboxDSN, filepath.Join(a.cfg.StateDir, "inbox"))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open inbox", err)
	}
	if dq, ok := q.(*inbox.DirQueue); ok {
		dq.SetLogger(a.logger)
	}
	return q, nil
}

func (a *app) client() (*discussions.Client, error) {
	if err := a.cfg.RequireToken(); err != nil {
		return nil, WrapExitError(ExitFailure, "live mode needs credentials", err)
	}
	return discussions.NewClient(discussions.ClientOptions{
		APIURL:     a.cfg.APIURL,
		GraphQLURL: a.cfg.GraphQLURL,
		Owner:      a.cfg.Owner,
		Repo:       a.cfg.Repo,
		Token:      a.cfg.Token,
		Logger:     a.logger,
	}), nil
}

// records returns the live discussions: from dataFile when given, otherwise
// fetched from the board. partial is set when the listing was cut short by
// an API error; the records fetched before it are still returned.
func (a *app) records(ctx context.Context, dataFile string) (records []discussions.Record, partial bool, err error) {
	if dataFile != "" {
		records, err := discussions.ReadDataFile(dataFile)
		if err != nil {
			return nil, false, WrapExitError(ExitFailure, "failed to read data file", err)
		}
		return records, false, nil
	}
	c, err := a.client()
	if err != nil {
		return nil, false, err
	}
	records, err = c.FetchAll(ctx)
	if discussions.IsPartial(err) {
		a.logger.Warn("discussion listing incomplete", "records", len(records), "error", err)
		return records, true, nil
	}
	if err != nil {
		return nil, false, WrapExitError(ExitFailure, "failed to fetch discussions", err)
	}
	return records, false, nil
}

func (a *app) processInbox(ctx context.Context) (reconciler.Result, error) {
	q, err := a.openQueue()
	if err != nil {
		return reconciler.Result{}, err
	}
	defer q.Close()
	return a.drain(ctx, q)
}

func (a *app) drain(ctx context.Context, q inbox.Queue) (reconciler.Result, error) {
	r := reconciler.New(a.store, q,
		reconciler.WithLogger(a.logger),
		reconciler.WithClock(a.now),
		reconciler.WithRunID(a.runID))
	return r.Drain(ctx)
}

func (a *app) reconcilerFor() *reconcile.Reconciler {
	return reconcile.New(a.store,
		reconcile.WithLogger(a.logger),
		reconcile.WithClock(a.now),
		reconcile.WithRunID(a.runID))
}

func (a *app) computeTrending(ctx context.Context, dataFile, saveFile string) (reconcile.Result, error) {
	records, partial, err := a.records(ctx, dataFile)
	if err != nil {
		return reconcile.Result{}, err
	}
	if partial {
		if saveFile != "" {
			a.logger.Warn("not saving an incomplete listing", "file", saveFile)
		}
		return a.reconcilerFor().RunPartial(ctx, records)
	}
	if saveFile != "" {
		if err := discussions.WriteDataFile(saveFile, records, state.Timestamp(a.now())); err != nil {
			return reconcile.Result{}, WrapExitError(ExitFailure, "failed to save data file", err)
		}
	}
	return a.reconcilerFor().Run(ctx, records)
}

func (a *app) heartbeatAudit(ctx context.Context) (reconcile.AuditResult, error) {
	return a.reconcilerFor().Audit(ctx)
}

func (a *app) catalog() (*content.Catalog, error) {
	if a.cfg.Archetypes != "" {
		return content.LoadCatalog(a.cfg.Archetypes)
	}
	return content.DefaultCatalog()
}

func (a *app) contentEngine(ctx context.Context, cfg content.Config) (*content.Engine, error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load archetypes", err)
	}
	opts := []content.Option{
		content.WithLogger(a.logger),
		content.WithClock(a.now),
		content.WithRunID(a.runID),
	}
	var poster content.Poster
	if !cfg.DryRun {
		c, err := a.client()
		if err != nil {
			return nil, err
		}
		p, err := discussions.NewPoster(ctx, c)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "failed to resolve discussion categories", err)
		}
		poster = p
		if cfg.LLMBodies {
			opts = append(opts, content.WithGenerator(a.generator()))
		}
	}
	return content.NewEngine(a.store, catalog, poster, cfg, opts...), nil
}

func (a *app) generator() *llm.Client {
	return llm.New(a.cfg.LLM, a.store, llm.WithLogger(a.logger), llm.WithClock(a.now))
}

func (a *app) generateFeeds(ctx context.Context, dataFile, baseURL string) ([]string, error) {
	var records []discussions.Record
	switch {
	case dataFile != "" || a.cfg.Token != "":
		r, _, err := a.records(ctx, dataFile)
		if err != nil {
			return nil, err
		}
		records = r
	default:
		a.logger.Warn("no data file and no token, feeds will have no items")
	}
	channels, err := a.store.LoadChannels(a.now())
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load channels", err)
	}
	if baseURL == "" {
		baseURL = a.cfg.BaseURL()
	}
	g := feeds.New(baseURL, feeds.WithLogger(a.logger), feeds.WithClock(a.now))
	written, err := g.Write(filepath.Join(a.cfg.DocsDir, "feeds"), records, channels)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to write feeds", err)
	}
	return written, nil
}

// weeklyDigest writes the weekly roundup. Without a token it previews the
// digest from the posted log instead of failing.
func (a *app) weeklyDigest(ctx context.Context, cfg digest.Config) (digest.Result, error) {
	opts := []digest.Option{
		digest.WithLogger(a.logger),
		digest.WithClock(a.now),
		digest.WithRunID(a.runID),
	}
	if !cfg.DryRun && a.cfg.Token == "" {
		a.logger.Warn("no token, previewing the digest from the posted log")
		cfg.DryRun = true
	}
	if !cfg.DryRun {
		c, err := a.client()
		if err != nil {
			return digest.Result{}, err
		}
		p, err := discussions.NewPoster(ctx, c)
		if err != nil {
			return digest.Result{}, WrapExitError(ExitFailure, "failed to resolve discussion categories", err)
		}
		opts = append(opts,
			digest.WithSource(c),
			digest.WithPoster(p),
			digest.WithGenerator(a.generator()))
	}
	return digest.New(a.store, cfg, opts...).Run(ctx)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, derived
// from the command's context when it has one.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// jobError converts a failed job into the command's exit error, keeping an
// ExitError raised deeper down.
func jobError(message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(ExitFailure, message, err)
}

func describe(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
