package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/spf13/cobra"
)

func init() {
	promptsSetCmd.Flags().String("system", "", "new system prompt")
	promptsSetCmd.Flags().String("user", "", "new user prompt; {text}, {summaries} and {question} are substituted")

	promptsCmd.AddCommand(promptsShowCmd, promptsSetCmd, promptsResetCmd, promptsResetAllCmd)
	rootCmd.AddCommand(promptsCmd)
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Show and edit the prompt templates",
}

var promptsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print one template, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		names := prompts.Names()
		if len(args) == 1 {
			if err := checkPromptName(args[0]); err != nil {
				return err
			}
			names = args
		}
		for _, name := range names {
			writeTemplate(cmd.OutOrStdout(), name, a.prompts.Get(name))
		}
		return nil
	},
}

var promptsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Replace the system and/or user prompt of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkPromptName(args[0]); err != nil {
			return err
		}
		var system, user *string
		if cmd.Flags().Changed("system") {
			v, _ := cmd.Flags().GetString("system")
			system = &v
		}
		if cmd.Flags().Changed("user") {
			v, _ := cmd.Flags().GetString("user")
			user = &v
		}
		if system == nil && user == nil {
			return fmt.Errorf("nothing to set: pass --system and/or --user")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.prompts.Update(args[0], system, user); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "prompt %s saved to %s\n", args[0], a.cfg.PromptsPath)
		return nil
	},
}

var promptsResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Restore one template to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.prompts.Reset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "prompt %s reset\n", args[0])
		return nil
	},
}

var promptsResetAllCmd = &cobra.Command{
	Use:   "reset-all",
	Short: "Restore every template to its default",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.prompts.ResetAll(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all prompts reset")
		return nil
	},
}

func checkPromptName(name string) error {
	if _, ok := prompts.Default(name); !ok {
		return fmt.Errorf("unknown prompt %q (want one of %s)", name, strings.Join(prompts.Names(), ", "))
	}
	return nil
}

func writeTemplate(w io.Writer, name string, t prompts.Template) {
	fmt.Fprintf(w, "== %s\n-- system\n%s\n-- user\n%s\n\n", name, t.System, t.User)
}
