package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpggio/aipair/internal/config"
	"github.com/rpggio/aipair/internal/domain/feedback"
	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/store/jsonfile"
	"github.com/rpggio/aipair/internal/store/reviewstore"
	"github.com/rpggio/aipair/internal/store/sessionstore"
	"github.com/rpggio/aipair/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aipair",
		Short:        "Line-anchored code review over a jj repository",
		SilenceUsage: true,
	}
	root.AddCommand(
		initCmd(),
		sessionCmd(),
		serveCmd(),
		pushCmd(),
		pullCmd(),
		statusCmd(),
		feedbackCmd(),
		respondCmd(),
	)
	return root
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// trunkContext opens the trunk jj repository rooted at or above the
// current directory, plus its session and review stores.
type trunkContext struct {
	trunk    *dvcs.Client
	sessions *session.Service
	reviews  *review.Service
	logger   *slog.Logger
}

func openTrunk(ctx context.Context) (*trunkContext, error) {
	logger := newLogger()
	trunk, err := dvcs.Discover(".")
	if err != nil {
		return nil, fmt.Errorf("locating jj repository: %w", err)
	}
	trunk.Logger = logger

	reviewDir := filepath.Join(trunk.Root(), ".aipair", "reviews")
	sessionDir := filepath.Join(trunk.Root(), ".aipair", "sessions")
	clonesDir := filepath.Join(trunk.Root(), ".aipair", "clones")

	reviewSvc := review.NewService(reviewstore.New(reviewDir), logger)
	sessionSvc := session.NewService(
		sessionstore.New(sessionDir),
		trunk,
		func(ctx context.Context, src, dest string) (session.DvcsClient, error) {
			return dvcs.Clone(ctx, src, dest, logger)
		},
		clonesDir,
		logger,
	)
	return &trunkContext{trunk: trunk, sessions: sessionSvc, reviews: reviewSvc, logger: logger}, nil
}

// sessionContext resolves the clone marker for the session the current
// working directory belongs to, walking up from cwd the way a jj
// workspace root is located.
type sessionContext struct {
	trunkContext
	clone  *dvcs.Client
	marker session.CloneMarker
}

func openSession(ctx context.Context) (*sessionContext, error) {
	marker, clonePath, err := findCloneMarker(".")
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	clone, err := dvcs.Discover(clonePath)
	if err != nil {
		return nil, fmt.Errorf("locating session clone at %s: %w", clonePath, err)
	}
	clone.Logger = logger

	trunk, err := dvcs.Discover(marker.MainRepo)
	if err != nil {
		return nil, fmt.Errorf("locating main repo %s: %w", marker.MainRepo, err)
	}
	trunk.Logger = logger

	reviewDir := filepath.Join(trunk.Root(), ".aipair", "reviews")
	sessionDir := filepath.Join(trunk.Root(), ".aipair", "sessions")
	clonesDir := filepath.Join(trunk.Root(), ".aipair", "clones")

	reviewSvc := review.NewService(reviewstore.New(reviewDir), logger)
	sessionSvc := session.NewService(
		sessionstore.New(sessionDir),
		trunk,
		func(ctx context.Context, src, dest string) (session.DvcsClient, error) {
			return dvcs.Clone(ctx, src, dest, logger)
		},
		clonesDir,
		logger,
	)

	return &sessionContext{
		trunkContext: trunkContext{trunk: trunk, sessions: sessionSvc, reviews: reviewSvc, logger: logger},
		clone:        clone,
		marker:       marker,
	}, nil
}

// findCloneMarker walks up from dir looking for .aipair/clone.json, the
// way `jj` itself walks up looking for a .jj directory.
func findCloneMarker(dir string) (session.CloneMarker, string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return session.CloneMarker{}, "", err
	}
	for {
		markerPath := filepath.Join(abs, ".aipair", "clone.json")
		if _, err := os.Stat(markerPath); err == nil {
			var marker session.CloneMarker
			if err := jsonfile.ReadInto(markerPath, &marker); err != nil {
				return session.CloneMarker{}, "", fmt.Errorf("reading clone marker: %w", err)
			}
			return marker, abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return session.CloneMarker{}, "", fmt.Errorf("not inside an aipair session clone (no .aipair/clone.json found above %s)", dir)
		}
		abs = parent
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Prepare the current jj repository as an aipair trunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			trunk, err := dvcs.Discover(".")
			if err != nil {
				return fmt.Errorf("locating jj repository: %w", err)
			}
			for _, dir := range []string{"reviews", "sessions", "clones"} {
				if err := os.MkdirAll(filepath.Join(trunk.Root(), ".aipair", dir), 0o755); err != nil {
					return fmt.Errorf("creating .aipair/%s: %w", dir, err)
				}
			}
			fmt.Printf("initialized aipair trunk at %s\n", trunk.Root())
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage review sessions"}

	var base string
	newCmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new session clone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := openTrunk(cmd.Context())
			if err != nil {
				return err
			}
			baseSessionName := strings.TrimPrefix(base, "session/")
			if base == "" || base == "main" {
				baseSessionName = ""
			}
			sess, err := tc.sessions.New(cmd.Context(), args[0], baseSessionName)
			if err != nil {
				return err
			}
			warnIfAgentFileMentionsMissing(tc.trunk, tc.logger, sess.Name)
			fmt.Printf("created session %s at %s (bookmark %s)\n", sess.Name, sess.ClonePath, sess.Bookmark)
			return nil
		},
	}
	newCmd.Flags().StringVar(&base, "base", "", "base bookmark or session name to branch from (default: main)")
	cmd.AddCommand(newCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := openTrunk(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := tc.sessions.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				fmt.Printf("%-20s %-8s %s\n", sess.Name, sess.Status, sess.Bookmark)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "merge <name>",
		Short: "Merge a session's bookmark onto trunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := openTrunk(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := tc.sessions.Merge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("merged %s (%d pushes)\n", sess.Name, len(sess.Pushes))
			return nil
		},
	})

	return cmd
}

// warnIfAgentFileMentionsMissing checks whether the trunk's CLAUDE.md or
// AGENTS.md mentions the new session name, as a nudge that agent
// instructions referencing it may need updating. Best-effort, never
// fatal.
func warnIfAgentFileMentionsMissing(trunk *dvcs.Client, logger *slog.Logger, sessionName string) {
	for _, name := range []string{"CLAUDE.md", "AGENTS.md"} {
		data, err := os.ReadFile(filepath.Join(trunk.Root(), name))
		if err != nil {
			continue
		}
		if !strings.Contains(string(data), sessionName) {
			logger.Warn("session name not mentioned in agent instructions file", "file", name, "session", sessionName)
		}
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aipair HTTP server against the current trunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			tc, err := openTrunk(cmd.Context())
			if err != nil {
				return err
			}
			server := transport.NewServer(tc.trunk, tc.reviews, tc.sessions, tc.logger)
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

			if err := os.WriteFile(filepath.Join(tc.trunk.Root(), ".aipair", "port"), []byte(fmt.Sprintf("%d", cfg.Server.Port)), 0o644); err != nil {
				tc.logger.Warn("failed to record assigned port", "error", err)
			}

			tc.logger.Info("server listening", "addr", addr)
			return http.ListenAndServe(addr, server.Router())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (default: config or 8420)")
	return cmd
}

func pushCmd() *cobra.Command {
	var message, rev string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the session's current change to the trunk remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			if rev != "" {
				if err := sc.clone.Describe(cmd.Context(), rev, message); err != nil {
					return err
				}
			}
			sess, err := sc.sessions.Push(cmd.Context(), sc.marker.SessionName, sc.clone, message)
			if err != nil {
				return err
			}
			last := sess.Pushes[len(sess.Pushes)-1]
			fmt.Printf("pushed %s (%s) to %s\n", last.ChangeID, last.CommitID, sess.Bookmark)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "change description")
	cmd.Flags().StringVar(&rev, "rev", "", "revision to describe with the message before pushing (when unset, nothing is described)")
	return cmd
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch and rebase the session onto its base",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			conflicted, err := sc.sessions.Pull(cmd.Context(), sc.marker.SessionName, sc.clone)
			if err != nil {
				return err
			}
			if conflicted {
				fmt.Println("pulled with conflicts — resolve before pushing")
			} else {
				fmt.Println("pulled cleanly")
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session's review and merge status",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := sc.sessions.Get(cmd.Context(), sc.marker.SessionName)
			if err != nil {
				return err
			}
			fmt.Printf("session: %s (%s)\nbookmark: %s\npushes: %d\n", sess.Name, sess.Status, sess.Bookmark, len(sess.Pushes))

			change, err := sc.clone.GetChange(cmd.Context(), "@")
			if err != nil {
				return err
			}
			fmt.Printf("conflict: %v\n", change.Conflict)

			pushedClean, err := sc.sessions.PushedClean(cmd.Context(), sess)
			if err != nil {
				return err
			}
			fmt.Printf("pushed_clean: %v\n", pushedClean)

			rev, err := sc.reviews.Get(cmd.Context(), change.ChangeID)
			if err != nil {
				if !errors.Is(err, review.ErrReviewNotFound) {
					return err
				}
				fmt.Println("no review yet")
				return nil
			}
			open := 0
			for _, th := range rev.Threads {
				if th.Status == review.ThreadOpen {
					open++
				}
			}
			fmt.Printf("revisions: %d, open threads: %d\n", len(rev.Revisions), open)
			return nil
		},
	}
}

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback",
		Short: "Print a Markdown report of open review threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			reviews, err := sc.reviews.ListWithOpenThreads(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(feedback.Format(cmd.Context(), sc.trunk, reviews))
			return nil
		},
	}
}

func respondCmd() *cobra.Command {
	var resolve bool
	cmd := &cobra.Command{
		Use:   "respond <change_id_prefix> <thread_id_prefix> <message>",
		Short: "Reply to a review thread, optionally resolving it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			_, thread, err := sc.reviews.ReplyToThread(cmd.Context(), args[0], args[1], review.AuthorAgent, args[2])
			if err != nil {
				return err
			}
			if resolve {
				if _, thread, err = sc.reviews.ResolveThread(cmd.Context(), args[0], thread.ID); err != nil {
					return err
				}
			}
			fmt.Printf("thread %s: %s\n", thread.ID, thread.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "mark the thread resolved after replying")
	return cmd
}
