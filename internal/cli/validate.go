package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/router"
	"github.com/harun/grove/pkg/sandbox"
	"github.com/harun/grove/pkg/tot"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errOffline = errors.New("validation does not call models")

var validateCmd = &cobra.Command{
	Use:   "validate [prompt-dir]",
	Short: "Check the config, prompts and state tables",
	Long: `Load the configuration, compile the prompt library with the given
override directory (or the configured one) and compile the search and routing
state tables. Nothing is sent to a model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config: ok")

	dir := cfg.Prompts.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	prompts, err := loadPrompts(dir, zerolog.Nop())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "prompts: ok (%d paths)\n", len(prompts.Paths()))

	offline := model.CompleterFunc(func(ctx context.Context, request model.Request) (string, error) {
		return "", errOffline
	})

	searchDef, err := loadDefinition(cfg.Search.States)
	if err != nil {
		return err
	}
	if _, err := tot.New(tot.Dependencies{
		Completer:  offline,
		Executor:   sandbox.NewCodeExecutor(nil),
		Prompts:    prompts,
		Definition: searchDef,
	}, cfg.Search.EngineConfig()); err != nil {
		return fmt.Errorf("search states: %w", err)
	}
	fmt.Fprintln(out, "search states: ok")

	routerDef, err := loadDefinition(cfg.Router.States)
	if err != nil {
		return err
	}
	if _, err := router.New(router.Dependencies{
		Completer: offline,
		Factory: func(name, description string) (router.Runner, error) {
			return nil, errOffline
		},
		Prompts:    prompts,
		Definition: routerDef,
	}); err != nil {
		return fmt.Errorf("routing states: %w", err)
	}
	fmt.Fprintln(out, "routing states: ok")

	return nil
}
