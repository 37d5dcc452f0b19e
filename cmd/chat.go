package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/omnillm/internal/chunk"
	"github.com/Davincible/omnillm/internal/pipeline"
	"github.com/Davincible/omnillm/internal/relay"
	"github.com/Davincible/omnillm/internal/tools"
)

var (
	flagModel     string
	flagSystem    string
	flagNoStream  bool
	flagWebSearch bool
	flagDemoTools bool
	flagTimeout   time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Send a prompt to a model",
	Long: `Send a prompt to a configured model and stream the reply to stdout.
The prompt is taken from the arguments, or from stdin when piped.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&flagModel, "model", "m", "", `model as "provider,model" (defaults to configured default)`)
	chatCmd.Flags().StringVarP(&flagSystem, "system", "s", "", "system prompt")
	chatCmd.Flags().BoolVar(&flagNoStream, "no-stream", false, "wait for the complete response instead of streaming")
	chatCmd.Flags().BoolVar(&flagWebSearch, "web-search", false, "let the model search the web")
	chatCmd.Flags().BoolVar(&flagDemoTools, "demo-tools", false, "expose a small local tool set to the model")
	chatCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "request timeout (e.g. 90s)")
}

// demoTools builds a tiny local tool set so tool calling and recursion can
// be tried without wiring real capabilities.
func demoTools() *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.Descriptor{
		Name:        "current_time",
		Description: "Get the current date and time in UTC",
		Parameters:  tools.Schema{Type: "object"},
	}, func(context.Context, map[string]any) (tools.Result, error) {
		return tools.TextResult(time.Now().UTC().Format(time.RFC3339)), nil
	})

	reg.Register(tools.Descriptor{
		Name:        "random_number",
		Description: "Get a random integer between 0 and max (exclusive)",
		Parameters: tools.Schema{
			Type: "object",
			Properties: map[string]tools.Property{
				"max": {Type: "integer", Description: "Upper bound, defaults to 100"},
			},
		},
	}, func(_ context.Context, args map[string]any) (tools.Result, error) {
		max := 100
		if v, ok := args["max"].(float64); ok && v > 0 {
			max = int(v)
		}
		return tools.TextResult(fmt.Sprintf("%d", rand.Intn(max))), nil
	})

	return reg
}

func runChat(cmd *cobra.Command, args []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found.")
		fmt.Printf("Run '%s config init' to set up your providers.\n", AppName)
		return fmt.Errorf("configuration required")
	}
	if _, err := cfgMgr.Load(); err != nil {
		return err
	}

	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	client := relay.New(cfgMgr, log)

	reasoning := color.New(color.Faint)
	var printed int // text already written, for cumulative streams

	req := &relay.Request{
		Model:     flagModel,
		System:    flagSystem,
		Messages:  []pipeline.Message{pipeline.TextMessage("user", prompt)},
		Stream:    !flagNoStream,
		WebSearch: flagWebSearch,
		Timeout:   flagTimeout,
	}
	if flagDemoTools {
		reg := demoTools()
		req.Tools = reg.Descriptors()
		req.Executor = reg
	}

	req.OnChunk = func(c chunk.Chunk) {
		switch c.Kind {
		case chunk.KindTextDelta:
			if c.Cumulative {
				if len(c.Delta) > printed {
					fmt.Print(c.Delta[printed:])
					printed = len(c.Delta)
				}
				return
			}
			fmt.Print(c.Delta)
			printed += len(c.Delta)
		case chunk.KindReasoningDelta:
			if !c.Cumulative {
				reasoning.Fprint(os.Stderr, c.Delta)
			}
		case chunk.KindToolCallComplete:
			color.Cyan("\n[tool call: %s]", c.ToolCall.Name)
		}
	}

	resp, err := client.Complete(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Println()

	if resp.Err != nil {
		color.Yellow("interrupted: %v", resp.Err)
	}
	for _, cit := range resp.Citations {
		color.Blue("source: %s", cit.URL)
	}
	log.Debug("completed",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return nil
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return "", err
		}
		if prompt := strings.TrimSpace(string(data)); prompt != "" {
			return prompt, nil
		}
	}
	return "", fmt.Errorf("no prompt given")
}
