package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-quiver/internal/evaluate"
)

func newEvaluateCmd() *cobra.Command {
	var cf corpusFlags

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report how well the vocabulary in --vocab-dir covers a corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPipeline(activeCfg, 1, 0)
			if err != nil {
				return err
			}

			texts, sources, closeAll, err := cf.open()
			if err != nil {
				return err
			}
			defer closeAll()

			report, err := evaluate.Evaluate(cmd.Context(), p.Tokenizer(), texts)
			if err != nil {
				return err
			}
			if _, err := checkSources(sources); err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return enc.Close()
		},
	}
	cf.register(cmd)
	return cmd
}
