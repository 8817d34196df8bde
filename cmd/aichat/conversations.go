package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/aichat/internal/db"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List stored conversations that can be resumed",
	RunE:  runConversations,
}

func init() {
	conversationsCmd.Flags().String("mode", "", "only list conversations in this mode")
	conversationsCmd.Flags().Int("limit", 20, "maximum number of conversations")
	conversationsCmd.Flags().Int("offset", 0, "number of conversations to skip")
	rootCmd.AddCommand(conversationsCmd)
}

func runConversations(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return errors.New("no transcript store configured (set store.path or --store)")
	}
	mode, _ := cmd.Flags().GetString("mode")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	return writeConversations(ctx, os.Stdout, db.NewStore(database), db.ConversationFilter{
		Mode:   mode,
		Limit:  limit,
		Offset: offset,
	})
}

func writeConversations(ctx context.Context, out io.Writer, store *db.Store, filter db.ConversationFilter) error {
	convs, err := store.Conversations().List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tCREATED\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Mode, c.CreatedAt, c.UpdatedAt)
	}
	return tw.Flush()
}
