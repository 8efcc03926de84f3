package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	askCategory   string
	askDifficulty string
	askNoCache    bool
	askTimeout    time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer a single query through the full cache/RAG ladder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildAgent(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
		defer cancel()

		if err := a.Initialize(ctx); err != nil {
			return err
		}

		ans, err := a.QueryKnowledge(ctx, strings.Join(args, " "), pipeline.QueryOptions{
			Category:   askCategory,
			Difficulty: askDifficulty,
			NoCache:    askNoCache,
		})
		if err != nil {
			return err
		}

		fmt.Println(ans.Response)
		if ans.Degraded {
			fmt.Println("\n[degraded: served from the response cache; the generation backend was unavailable]")
		}
		if len(ans.Techniques) > 0 {
			fmt.Println("\nTechniques:", strings.Join(ans.Techniques, ", "))
		}
		if len(ans.Tools) > 0 {
			fmt.Println("Tools:", strings.Join(ans.Tools, ", "))
		}
		if len(ans.Sources) > 0 {
			fmt.Println("Sources:", strings.Join(ans.Sources, ", "))
		}
		fmt.Printf("\nconfidence=%.2f cached=%v took=%s\n", ans.Confidence, ans.Cached, ans.ProcessingTime.Round(time.Millisecond))

		persistCtx, persistCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer persistCancel()
		return a.Persist(persistCtx)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the health probes once and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildAgent(cfg)
		if err != nil {
			return err
		}
		if err := a.Initialize(cmd.Context()); err != nil {
			return err
		}
		a.HealthCheck(cmd.Context())
		fmt.Print(a.HealthReport())
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askCategory, "category", "", "restrict catalog matches to a category")
	askCmd.Flags().StringVar(&askDifficulty, "difficulty", "", "restrict catalog matches to a difficulty")
	askCmd.Flags().BoolVar(&askNoCache, "no-cache", false, "bypass the response cache")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 60*time.Second, "end-to-end deadline")
}
