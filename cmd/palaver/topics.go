package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/palaver/internal/topics"
)

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the debate topic pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool := topics.NewPool(cfg.Topics, cfg.TopicsFile)
			for i, topic := range pool.All() {
				fmt.Printf("%2d. %s\n", i+1, topic)
			}
			return nil
		},
	}
}
