package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/headless"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	chatID    string
	projectID string
	model     string
	images    []string
	documents []string
	thinking  bool
	timeout   time.Duration
}

func newSendCmd() *cobra.Command {
	flags := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send [prompt]",
		Short: "Send a message and stream the reply",
		Long: `Send a message to a chat and print the reply as it streams in.
Without --chat a new chat is created and titled after the first reply.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			opts := headless.RunOptions{
				ChatID:    flags.chatID,
				ProjectID: flags.projectID,
				Send: chat.SendOptions{
					ProjectID:        flags.projectID,
					Model:            flags.model,
					ExtendedThinking: flags.thinking,
				},
			}

			var err error
			if opts.Send.Images, err = loadAttachments(flags.images); err != nil {
				return err
			}
			if opts.Send.Documents, err = loadAttachments(flags.documents); err != nil {
				return err
			}

			return withApp(func(a *app) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
				defer cancel()

				output := headless.NewOutputTo(cmd.OutOrStdout(), cmd.ErrOrStderr())
				runner := headless.NewRunner(a.store, headless.WithOutput(output), headless.WithUsage(a.usage))

				c, err := runner.Run(ctx, prompt, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "chat %s\n", c.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.chatID, "chat", "", "continue an existing chat")
	cmd.Flags().StringVar(&flags.projectID, "project", "", "create the chat inside this project")
	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "override the model for this message")
	cmd.Flags().StringSliceVar(&flags.images, "image", nil, "attach an image file (repeatable)")
	cmd.Flags().StringSliceVar(&flags.documents, "document", nil, "attach a document file (repeatable)")
	cmd.Flags().BoolVar(&flags.thinking, "thinking", false, "enable extended thinking")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "how long to wait for the reply")

	return cmd
}

// loadAttachments reads each file into a base64 attachment
func loadAttachments(paths []string) ([]chat.Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	attachments := make([]chat.Attachment, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		attachments = append(attachments, chat.Attachment{
			Data:      base64.StdEncoding.EncodeToString(data),
			MediaType: mediaType(path, data),
			Name:      filepath.Base(path),
		})
	}
	return attachments, nil
}

func mediaType(path string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		mediaType, _, err := mime.ParseMediaType(byExt)
		if err == nil {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}
