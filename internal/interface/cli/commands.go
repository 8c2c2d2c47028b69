package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
	"github.com/eidolabs/forge/internal/infrastructure/di"
)

// withContainer builds the container, runs fn, and releases resources
func withContainer(fn func(ctx context.Context, c *di.Container) error) error {
	c, err := di.NewContainer(globalConfig)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}

func newCreateCmd() *cobra.Command {
	var idea string
	var maxCost float64

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new MVP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				if maxCost == 0 {
					maxCost = c.Config().DefaultMaxCost
				}
				m, err := c.MVPService().CreateMVP(ctx, args[0], idea, maxCost)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created MVP %s (%s)\n", m.ID(), m.Name())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&idea, "idea", "", "Free-text idea summary")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "Cost ceiling in USD (default from config)")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <mvp-id>",
		Short: "Run the build pipeline for an MVP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				id, err := model.NewMVPIDFromString(args[0])
				if err != nil {
					return err
				}
				if _, err := c.MVPService().CheckPipelineAdmission(ctx, id); err != nil {
					return err
				}
				if err := c.PipelineUseCase().Run(ctx, id); err != nil {
					return err
				}
				m, err := c.MVPService().GetMVP(ctx, id)
				if err != nil {
					return err
				}
				printMVP(cmd, m)
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List MVPs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				filter := repository.MVPFilter{Limit: limit}
				for _, s := range statuses {
					status := model.Status(strings.ToUpper(s))
					if !status.IsValid() {
						return fmt.Errorf("unknown status: %s", s)
					}
					filter.Statuses = append(filter.Statuses, status)
				}

				mvps, err := c.MVPService().ListMVPs(ctx, filter)
				if err != nil {
					return err
				}
				for _, m := range mvps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-13s  $%.4f  %s\n",
						m.ID(), m.Status(), m.TotalCostEstimate(), m.Name())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum results")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mvp-id>",
		Short: "Show an MVP's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				id, err := model.NewMVPIDFromString(args[0])
				if err != nil {
					return err
				}
				m, err := c.MVPService().GetMVP(ctx, id)
				if err != nil {
					return err
				}
				printMVP(cmd, m)
				return nil
			})
		},
	}
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <mvp-id>",
		Short: "Show the execution records of an MVP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				runs, err := c.AgentRunRepository().FindByMVPID(ctx, args[0])
				if err != nil {
					return err
				}
				for _, run := range runs {
					duration := "-"
					if run.DurationMS != nil {
						duration = strconv.FormatInt(*run.DurationMS, 10) + "ms"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "#%d  %-13s attempt=%d  %-9s  model=%-16s tokens=%-6d $%.4f  %s\n",
						run.ID, run.Stage, run.AttemptNumber, run.Status,
						run.LLMModel, run.TokenUsage, run.CostEstimate, duration)
				}
				return nil
			})
		},
	}
}

func newRecoverCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resume pipelines interrupted by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, c *di.Container) error {
				n, err := c.RecoveryScanner().ResumeIncomplete(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d pipeline(s)\n", n)
				if wait && n > 0 {
					c.RecoveryScanner().Wait()
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for resumed pipelines to finish")
	return cmd
}

func printMVP(cmd *cobra.Command, m *mvp.MVP) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:             %s\n", m.ID())
	fmt.Fprintf(out, "Name:           %s\n", m.Name())
	fmt.Fprintf(out, "Status:         %s\n", m.Status())
	fmt.Fprintf(out, "Idea:           %s\n", m.IdeaSummary())
	fmt.Fprintf(out, "Cost:           $%.4f / $%.2f\n", m.TotalCostEstimate(), m.MaxAllowedCost())
	fmt.Fprintf(out, "Tokens:         %d\n", m.TotalTokenUsage())
	fmt.Fprintf(out, "Retries:        %d\n", m.RetryCount())
	if m.DeploymentURL() != "" {
		fmt.Fprintf(out, "Deployment URL: %s\n", m.DeploymentURL())
	}
	if m.TokenID() != "" {
		fmt.Fprintf(out, "Token ID:       %s\n", m.TokenID())
	}
	if m.LastErrorStage() != "" {
		fmt.Fprintf(out, "Last error:     %s\n", m.LastErrorStage())
	}
	if m.ExecutionTraceID() != "" {
		fmt.Fprintf(out, "Trace:          %s\n", m.ExecutionTraceID())
	}
	fmt.Fprintf(out, "Created:        %s\n", m.CreatedAt().Value().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:        %s\n", m.UpdatedAt().Value().Format(time.RFC3339))
}
