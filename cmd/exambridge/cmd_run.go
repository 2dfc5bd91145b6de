package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"exambridge/internal/api"
	"exambridge/internal/bank"
	"exambridge/internal/browser"
	"exambridge/internal/intercept"
	"exambridge/internal/journal"
	"exambridge/internal/logging"
	"exambridge/internal/match"
	"exambridge/internal/session"
)

var attachTarget string

// runCmd hosts the exam and intercepts it until interrupted.
var runCmd = &cobra.Command{
	Use:   "run [exam-url]",
	Short: "Open the exam in a controlled browser and answer submissions",
	Long: `Starts the question bank, session store, journal and status API, then
opens the exam URL (argument, or browser.start_url) in Chrome with its exam
API traffic routed through the interceptor. Runs until Ctrl+C.

With --attach the interceptor is installed on an already open tab instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExam,
}

func init() {
	runCmd.Flags().StringVar(&attachTarget, "attach", "", "Attach to an existing Chrome target id instead of opening a page")
}

func runExam(cmd *cobra.Command, args []string) error {
	startURL := cfg.Browser.StartURL
	if len(args) > 0 {
		startURL = args[0]
	}
	if startURL == "" && attachTarget == "" {
		return errors.New("no exam URL: pass one as an argument or set browser.start_url")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Question bank
	b := bank.New()
	n, err := b.Load(cfg.Bank.Paths...)
	if err != nil {
		return fmt.Errorf("failed to load question bank: %w", err)
	}
	logger.Info("Question bank loaded", zap.Int("questions", n), zap.Strings("paths", cfg.Bank.Paths))

	if cfg.Bank.Watch {
		w, err := bank.NewWatcher(b, cfg.GetWatchDebounce())
		if err != nil {
			logging.BootWarn("bank hot reload disabled: %v", err)
		} else if err := w.Start(ctx); err != nil {
			logging.BootWarn("bank hot reload disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	// 2. Session store and journal
	store := session.NewStore(cfg.SessionStoreConfig())
	store.Start(ctx)
	defer store.Stop()

	var (
		opts []intercept.Option
		jr   *journal.Journal
	)
	if cfg.Journal.Enabled {
		jr, err = journal.Open(cfg.Journal.Path, cfg.Journal.Buffer)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if err := jr.Close(); err != nil {
				logging.JournalError("failed to close journal: %v", err)
			}
		}()
		opts = append(opts, intercept.WithRecorder(jr))
	}

	// 3. Interceptor and browser host
	ic := intercept.New(b, match.NewEngine(cfg.MatchConfig()), store, opts...)
	mgr := browser.NewSessionManager(cfg.BrowserSettings(), ic)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.Enabled {
		src := api.Sources{Bank: b, Sessions: store, Interceptor: ic, Browser: mgr}
		if jr != nil {
			src.Journal = jr
		}
		srv := api.New(cfg.API.Addr, src)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if err := mgr.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	var sess *browser.Session
	if attachTarget != "" {
		sess, err = mgr.Attach(gctx, attachTarget)
	} else {
		sess, err = mgr.OpenExam(gctx, startURL)
	}
	if err != nil {
		stop()
		_ = g.Wait()
		_ = mgr.Shutdown(context.Background())
		return fmt.Errorf("failed to open exam: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exam session %s on %s\n", sess.ID, sess.URL)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to shutdown")

	<-gctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logging.BrowserWarn("failed to shutdown browser: %v", err)
	}

	st := ic.Stats()
	logger.Info("Interception summary",
		zap.Int64("distributes", st.Distributes),
		zap.Int64("submissions", st.Submissions),
		zap.Int64("subjects_matched", st.SubjectsMatched),
		zap.Int64("subjects_injected", st.SubjectsInjected),
		zap.Int64("failures", st.Failures))

	return g.Wait()
}
