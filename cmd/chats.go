package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/killallgit/converse/pkg/chat"
	"github.com/spf13/cobra"
)

func newChatsCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List, create, inspect and delete chats",
	}
	cmd.PersistentFlags().StringVar(&projectID, "project", "", "limit to chats in this project")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chats, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.store.LoadChats(cmd.Context(), projectID); err != nil {
					return err
				}
				printChats(cmd.OutOrStdout(), a.store.Snapshot().Chats)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Create an empty chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				created, err := a.store.CreateChat(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.store.DeleteChat(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a chat's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				c, err := a.service.GetChat(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.store.SelectChat(cmd.Context(), &c); err != nil {
					return err
				}
				printTranscript(cmd.OutOrStdout(), c, a.store.Snapshot().Messages)
				return nil
			})
		},
	})

	return cmd
}

func printChats(w io.Writer, chats []chat.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, c := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Title, c.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func printTranscript(w io.Writer, c chat.Chat, messages []chat.Message) {
	fmt.Fprintf(w, "# %s\n", c.Title)
	for _, msg := range messages {
		fmt.Fprintf(w, "\n[%s]", msg.Role)
		for _, a := range msg.Images {
			fmt.Fprintf(w, " (image %s)", a.Name)
		}
		for _, a := range msg.Documents {
			fmt.Fprintf(w, " (document %s)", a.Name)
		}
		fmt.Fprintf(w, "\n%s\n", msg.Content)
	}
}
