package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tutor",
		Short:         "Apply LLM skills to tabular data and improve their instructions from errors",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	defaultCfg := os.Getenv("CONFIG_PATH")
	if defaultCfg == "" {
		defaultCfg = "configs/tutor.json"
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "path to the JSON config file")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newApplyCmd(&cfgPath),
		newLearnCmd(&cfgPath),
		newSkillsCmd(&cfgPath),
		newProvidersCmd(&cfgPath),
	)
	return root
}
