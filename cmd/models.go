package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured providers and models",
	RunE:  runModels,
}

func runModels(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found.")
		fmt.Printf("Run '%s config init' to set up your providers.\n", AppName)
		return fmt.Errorf("configuration required")
	}
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	if cfg.DefaultModel != "" {
		color.Green("default: %s", cfg.DefaultModel)
	}

	for _, p := range cfg.Providers {
		color.Blue("%s", p.Name)
		if p.APIBase != "" {
			fmt.Printf("  endpoint: %s\n", p.APIBase)
		}
		for _, m := range p.Models {
			fmt.Printf("  - %s,%s\n", p.Name, m)
		}
	}
	return nil
}
