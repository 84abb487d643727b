package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tagstream/tagstream/internal/bluesky"
	"github.com/tagstream/tagstream/internal/config"
	"github.com/tagstream/tagstream/internal/hashtag"
	"github.com/tagstream/tagstream/internal/pipeline"
	"github.com/tagstream/tagstream/internal/profiles"
	"github.com/tagstream/tagstream/internal/search"
	"github.com/tagstream/tagstream/internal/thread"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tagstream",
		Short:         "Follow and post to a hashtag-scoped BlueSky stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newWatchCmd())
	root.AddCommand(newPostCmd())
	return root
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newWatchCmd() *cobra.Command {
	var backfillPages int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Backfill recent posts for the hashtag, then stream live ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			client := bluesky.NewClient(cfg.ServiceURL, cfg.SearchURL)
			cache := profiles.NewCache(client)
			sink := newTerminalSink(cmd.OutOrStdout())

			if err := backfill(ctx, client, sink, cfg.Hashtag, backfillPages, logger); err != nil {
				// history is best-effort; the live stream is the point
				logger.Warn("backfill incomplete", "error", err)
			}

			p := pipeline.New(
				pipeline.NewFirehoseDialer(cfg.FirehoseURL, logger),
				client, cache, sink, cfg.Hashtag, logger,
			)
			logger.Info("streaming live posts", "hashtag", cfg.Hashtag)
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&backfillPages, "backfill-pages", 3,
		"historical search pages to load before going live (0 disables)")
	return cmd
}

// backfill loads up to maxPages of history and renders it oldest-first
// overall. The engine pages newest to oldest, with each page internally
// oldest-first, so pages are collected and emitted in reverse.
func backfill(ctx context.Context, client *bluesky.Client, sink *terminalSink, tag string, maxPages int, logger *slog.Logger) error {
	if maxPages <= 0 {
		return nil
	}

	engine := search.NewEngine(client, tag, logger)
	var pages [][]bluesky.PostView
	for len(pages) < maxPages {
		page, err := engine.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
	}

	for i := len(pages) - 1; i >= 0; i-- {
		for j := range pages[i] {
			sink.RenderPost(&pages[i][j])
		}
	}
	logger.Info("backfill complete", "pages", len(pages))
	return nil
}

func newPostCmd() *cobra.Command {
	var (
		replyTo        string
		continueThread bool
		newThread      bool
	)

	cmd := &cobra.Command{
		Use:   "post [text...]",
		Short: "Send a post into the hashtag scope, chaining onto its thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Identifier == "" || cfg.AppPassword == "" {
				return fmt.Errorf("TAGSTREAM_IDENTIFIER and TAGSTREAM_APP_PASSWORD are required for posting")
			}

			ctx, cancel := signalContext()
			defer cancel()

			client := bluesky.NewClient(cfg.ServiceURL, cfg.SearchURL)
			if err := client.Login(ctx, cfg.Identifier, cfg.AppPassword); err != nil {
				return err
			}

			store, err := thread.OpenStore(cfg.ContinuationDBPath())
			if err != nil {
				return fmt.Errorf("open continuation store: %w", err)
			}
			defer store.Close()
			tracker := thread.NewTracker(store)

			account := client.DID()
			text := strings.Join(args, " ")
			if !hashtag.Matches(text, cfg.Hashtag) {
				text += " " + cfg.Hashtag
			}

			var (
				reply          *bluesky.ReplyRef
				isReplyToOther bool
			)
			switch {
			case replyTo != "":
				target, err := client.GetPost(ctx, replyTo)
				if err != nil {
					return fmt.Errorf("load reply target: %w", err)
				}
				if target == nil {
					return fmt.Errorf("reply target %s no longer exists", replyTo)
				}
				reply = thread.ReplyTo(target)
				isReplyToOther = true

			case newThread:
				if err := tracker.Clear(ctx, account, cfg.Hashtag); err != nil {
					return err
				}

			default:
				existing, err := tracker.Get(ctx, account, cfg.Hashtag)
				if err != nil {
					return err
				}
				if existing != nil && !continueThread {
					return fmt.Errorf("a thread for %s already exists (last post %s); pass --continue to chain onto it or --new-thread to start over",
						cfg.Hashtag, existing.Parent.URI)
				}
				reply, err = tracker.NextReply(ctx, account, cfg.Hashtag)
				if err != nil {
					return err
				}
			}

			ref, err := client.CreatePost(ctx, bluesky.PostBody{
				Text:      text,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Reply:     reply,
			})
			if err != nil {
				return err
			}
			if err := tracker.RecordPost(ctx, account, cfg.Hashtag, ref, isReplyToOther); err != nil {
				return fmt.Errorf("post sent but continuation not saved: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), ref.URI)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "",
		"at:// URI of a specific post to reply to (bypasses the thread continuation)")
	cmd.Flags().BoolVar(&continueThread, "continue", false,
		"chain onto the existing thread for this hashtag")
	cmd.Flags().BoolVar(&newThread, "new-thread", false,
		"discard the stored thread continuation and start fresh")
	return cmd
}
