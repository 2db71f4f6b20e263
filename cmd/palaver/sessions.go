package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/palaver/internal/bus"
	"github.com/ehrlich-b/palaver/internal/store"
	"github.com/ehrlich-b/palaver/internal/transcript"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect archived debate sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd(), sessionsExportCmd())
	return cmd
}

func openArchive() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("no database.path configured")
	}
	return store.Open(cfg.Database.Path)
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			list, err := archive.ListSessions(context.Background())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no archived sessions")
				return nil
			}
			for _, rec := range list {
				winner := rec.Winner
				if winner == "" {
					winner = "-"
				}
				fmt.Printf("%s  %s  [%s]  winner: %s\n",
					rec.StartedAt.Local().Format("2006-01-02 15:04"), rec.ID[:8], rec.Mode, winner)
				fmt.Printf("          %s\n", rec.Topic)
			}
			return nil
		},
	}
}

// resolveSession accepts a full id or an unambiguous prefix.
func resolveSession(ctx context.Context, archive *store.Store, arg string) (*store.Session, error) {
	if rec, err := archive.GetSession(ctx, arg); err == nil {
		return rec, nil
	}
	list, err := archive.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var match *store.Session
	for i := range list {
		if len(arg) > 0 && len(list[i].ID) >= len(arg) && list[i].ID[:len(arg)] == arg {
			if match != nil {
				return nil, fmt.Errorf("session prefix %q is ambiguous", arg)
			}
			match = &list[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("session %s not found", arg)
	}
	return match, nil
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print an archived session's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			ctx := context.Background()
			rec, err := resolveSession(ctx, archive, args[0])
			if err != nil {
				return err
			}
			events, err := archive.LoadEvents(ctx, rec.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Topic: %s\nMode: %s\nWinner: %s\n\n", rec.Topic, rec.Mode, rec.Winner)
			for _, ev := range events {
				fmt.Printf("[%s] %s: %s\n", ev.CreatedAt.Local().Format("15:04:05"), ev.Sender, ev.Body)
			}
			return nil
		},
	}
}

func sessionsExportCmd() *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Re-export an archived session as json, txt, or html",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			ctx := context.Background()
			rec, err := resolveSession(ctx, archive, args[0])
			if err != nil {
				return err
			}
			events, err := archive.LoadEvents(ctx, rec.ID)
			if err != nil {
				return err
			}

			// Rebuild the aggregate counters by restoring the log into
			// a scratch bus; original sequence numbers are preserved.
			scratch := bus.New()
			defer scratch.Close()
			scratch.Restore(events)

			doc := transcript.New(events, scratch.Stats(), rec.Topic, rec.Winner, nil)
			return transcript.Write(os.Stdout, doc, formatFlag)
		},
	}
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "txt", "output format: json, txt, or html")
	return cmd
}
