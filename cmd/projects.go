package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/killallgit/converse/pkg/chat"
	"github.com/spf13/cobra"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects and their generation settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.projects.LoadProjects(cmd.Context()); err != nil {
					return err
				}
				printProjects(cmd.OutOrStdout(), a.projects.Snapshot().Projects)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				project, err := a.projects.CreateProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), project.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project with all of its chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.projects.DeleteProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(newProjectSettingsCmd())
	return cmd
}

// newProjectSettingsCmd prints a project's settings, updating any field
// given as a flag first
func newProjectSettingsCmd() *cobra.Command {
	var update chat.ProjectSettings

	cmd := &cobra.Command{
		Use:   "settings <project-id>",
		Short: "Show or change a project's generation settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			return withApp(func(a *app) error {
				settings, err := a.projects.ProjectSettings(cmd.Context(), projectID)
				if err != nil {
					return err
				}

				flags := cmd.Flags()
				changed := false
				if flags.Changed("model") {
					settings.Model, changed = update.Model, true
				}
				if flags.Changed("system-prompt") {
					settings.SystemPrompt, changed = update.SystemPrompt, true
				}
				if flags.Changed("max-tokens") {
					settings.MaxTokens, changed = update.MaxTokens, true
				}
				if flags.Changed("temperature") {
					settings.Temperature, changed = update.Temperature, true
				}

				if changed {
					if err := a.projects.UpdateProjectSettings(cmd.Context(), projectID, settings); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "model:         %s\n", settings.Model)
				fmt.Fprintf(out, "max tokens:    %d\n", settings.MaxTokens)
				fmt.Fprintf(out, "temperature:   %g\n", settings.Temperature)
				fmt.Fprintf(out, "system prompt: %s\n", settings.SystemPrompt)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&update.Model, "model", "", "model used for the project's chats")
	cmd.Flags().StringVar(&update.SystemPrompt, "system-prompt", "", "system prompt sent with every message")
	cmd.Flags().IntVar(&update.MaxTokens, "max-tokens", chat.DefaultMaxTokens, "reply token limit")
	cmd.Flags().Float64Var(&update.Temperature, "temperature", chat.DefaultTemperature, "sampling temperature")
	return cmd
}

func printProjects(w io.Writer, projects []chat.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Name)
	}
	tw.Flush()
}
