// cmd/tools/reply-preview/commands.go
package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"shopdesk/internal/assistant"
	"shopdesk/internal/assistant/provider"
	"shopdesk/internal/autoreply"
	"shopdesk/internal/common/config"
	"shopdesk/internal/common/logger"
)

type options struct {
	configPath string
	fixture    string
	provider   string
	verbose    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "reply-preview",
		Short: "Inspect the auto-reply prompt and model output offline",
		Long: `reply-preview renders the exact prompt the auto-reply pipeline sends,
runs the confidence analyzer on raw model text, or calls the configured
provider end to end. Nothing is sent to customers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "Path to the service config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	render := &cobra.Command{
		Use:   "render",
		Short: "Print the prompt built from a YAML fixture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, opts)
		},
	}
	render.Flags().StringVarP(&opts.fixture, "fixture", "f", "", "YAML fixture with message, history, trainingPairs and products")
	_ = render.MarkFlagRequired("fixture")

	analyze := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Score raw model output (reads stdin when no text is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, args)
		},
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Run the full pipeline against the configured provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}
	generate.Flags().StringVarP(&opts.fixture, "fixture", "f", "", "YAML fixture with message, history, trainingPairs and products")
	generate.Flags().StringVar(&opts.provider, "provider", "", "Override ai.provider (gemini, openai, mock)")
	generate.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "Overall deadline")
	_ = generate.MarkFlagRequired("fixture")

	root.AddCommand(render, analyze, generate)
	return root
}

func (o *options) logger() logger.Logger {
	if o.verbose {
		return logger.NewStructured("debug", "console")
	}
	return logger.NewNoOpLogger()
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.provider != "" {
		cfg.AI.Provider = o.provider
	}
	return cfg, nil
}

// offlinePipeline is built on the mock generator; render and analyze never
// reach the network.
func (o *options) offlinePipeline() (*assistant.Pipeline, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return assistant.NewPipelineFromConfig(cfg.AI, provider.NewMock(""), o.logger())
}

func runRender(cmd *cobra.Command, opts *options) error {
	fx, err := loadFixture(opts.fixture)
	if err != nil {
		return err
	}
	p, err := opts.offlinePipeline()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), p.Builder().Build(fx.promptInput()))
	return err
}

func runAnalyze(cmd *cobra.Command, opts *options, args []string) error {
	var raw string
	if len(args) == 1 {
		raw = args[0]
	} else {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		raw = strings.TrimRight(string(b), "\n")
	}

	p, err := opts.offlinePipeline()
	if err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), p.Policy().Analyze(raw))
}

func runGenerate(cmd *cobra.Command, opts *options) error {
	fx, err := loadFixture(opts.fixture)
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	log := opts.logger()
	gen, err := provider.Build(cfg.AI, log)
	if err != nil {
		return err
	}
	p, err := assistant.NewPipelineFromConfig(cfg.AI, gen, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	resp, err := p.GenerateReply(ctx, fx.request())
	result := generateResult{Response: resp, Threshold: fx.threshold()}
	if err != nil {
		result.Error = err.Error()
	}
	result.Handoff = autoreply.HandoffReason(resp, p.Fallback(), result.Threshold)
	return writeYAML(cmd.OutOrStdout(), result)
}

type generateResult struct {
	assistant.Response `yaml:",inline"`
	Threshold          float64 `yaml:"threshold"`
	// Handoff is empty when the service would send the reply.
	Handoff string `yaml:"handoff"`
	Error   string `yaml:"error,omitempty"`
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
