package cli

import (
	"github.com/spf13/cobra"
)

var solveTask string

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve one task with a single search engine",
	Long: `Run a Tree-of-Thought search on one task without routing. The search
ends when a strict majority of the completion voters accepts the result.`,
	Args: cobra.NoArgs,
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVarP(&solveTask, "task", "t", "", "task file (yaml, json, xml, txt or - for stdin)")
	_ = solveCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	task, err := loadTask(cmd.InOrStdin(), solveTask)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine("solve")
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, task)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), result)
	return nil
}
