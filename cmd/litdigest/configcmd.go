package main

import (
	"fmt"
	"io"

	"github.com/HerbHall/litdigest/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every configuration key with its effective value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", a.store.Path())
		writeConfig(cmd.OutOrStdout(), a.store.Viper())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], display(args[0], a.store.Viper().Get(args[0])))
		return nil
	},
}

func writeConfig(w io.Writer, v *viper.Viper) {
	for _, key := range config.Keys() {
		fmt.Fprintf(w, "%s = %s\n", key, display(key, v.Get(key)))
	}
}

// display masks secrets.
func display(key string, value any) string {
	s := fmt.Sprint(value)
	if key == "api_key" && s != "" {
		if len(s) <= 8 {
			return "********"
		}
		return s[:4] + "..." + s[len(s)-4:]
	}
	return s
}
