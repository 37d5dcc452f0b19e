package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnillm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Follow the prompts to configure your LLM providers.")

	reader := bufio.NewReader(os.Stdin)
	ask := func(label string) string {
		fmt.Printf("\n%s: ", label)
		value, _ := reader.ReadString('\n')
		return strings.TrimSpace(value)
	}

	name := ask("Provider name (openai, anthropic, gemini, openrouter, nvidia)")
	apiKey := ask("API key")
	apiBase := ask("API base URL (empty for the provider default)")
	models := ask("Models (comma separated)")
	defaultModel := ask("Default model")

	provider := config.Provider{
		Name:    name,
		APIKey:  apiKey,
		APIBase: apiBase,
	}
	for _, m := range strings.Split(models, ",") {
		if m = strings.TrimSpace(m); m != "" {
			provider.Models = append(provider.Models, m)
		}
	}

	cfg := &config.Config{
		Providers: []config.Provider{provider},
	}
	if defaultModel != "" {
		cfg.DefaultModel = name + "," + defaultModel
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return err
	}
	color.Green("Configuration written to %s", cfgMgr.GetPath())
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration at %s", cfgMgr.GetPath())
	}
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	// Don't print credentials.
	masked := *cfg
	masked.Providers = make([]config.Provider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		masked.Providers[i] = p
		if len(p.APIKey) > 4 {
			masked.Providers[i].APIKey = "..." + p.APIKey[len(p.APIKey)-4:]
		} else if p.APIKey != "" {
			masked.Providers[i].APIKey = "..."
		}
	}

	data, err := json.MarshalIndent(&masked, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration at %s", cfgMgr.GetPath())
	}
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	var problems []string
	if len(cfg.Providers) == 0 {
		problems = append(problems, "no providers configured")
	}
	for _, p := range cfg.Providers {
		if p.Name == "" {
			problems = append(problems, "provider with empty name")
		}
		if p.APIKey == "" {
			problems = append(problems, fmt.Sprintf("provider %q has no API key", p.Name))
		}
	}
	if cfg.DefaultModel != "" && !strings.Contains(cfg.DefaultModel, ",") {
		found := false
		for _, p := range cfg.Providers {
			for _, m := range p.Models {
				if m == cfg.DefaultModel {
					found = true
				}
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("default model %q not in any provider's model list", cfg.DefaultModel))
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			color.Red("✗ %s", p)
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	}
	color.Green("✓ configuration is valid")
	return nil
}
