package cli

import (
	"fmt"

	"github.com/harun/grove/pkg/router"
	"github.com/spf13/cobra"
)

var routeTasks []string

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route tasks to agents, creating agents as needed",
	Long: `Route each task to the agent best suited for it. When no agent fits, a
new one is created. Tasks are routed in order, so later tasks can reuse agents
created for earlier ones.`,
	Args: cobra.NoArgs,
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().StringArrayVarP(&routeTasks, "task", "t", nil, "task file (yaml, json, xml, txt or - for stdin); repeatable")
	_ = routeCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tasks, err := loadTasks(cmd.InOrStdin(), routeTasks)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.newRouter()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, task := range tasks {
		outcome, err := r.Route(ctx, router.TriggerRoute, task)
		if err != nil {
			return fmt.Errorf("route task %d: %w", i+1, err)
		}
		printOutcome(out, i+1, outcome)
	}

	fmt.Fprintf(out, "agents: %d\n", r.Count())
	for _, agent := range r.Agents() {
		fmt.Fprintf(out, "  %s (%d tasks): %s\n", agent.Name, len(agent.Tasks()), agent.Description)
	}
	return nil
}
