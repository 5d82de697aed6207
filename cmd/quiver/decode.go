package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-quiver/internal/corpus"
)

func newDecodeCmd() *cobra.Command {
	var (
		input  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode id sequences written by encode back to text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := activeCfg
			p, err := loadPipeline(cfg, cfg.Server.Workers, 0)
			if err != nil {
				return err
			}

			rc, err := corpus.Open(input)
			if err != nil {
				return err
			}
			defer rc.Close()

			batch, err := readIDSequences(format, rc)
			if err != nil {
				return fmt.Errorf("read ids: %w", err)
			}
			texts, err := p.DetokenizeBatch(cmd.Context(), batch)
			if err != nil {
				return err
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, text := range texts {
				w.WriteString(text)
				w.WriteByte('\n')
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&input, "input", "-", "File of id sequences")
	cmd.Flags().StringVar(&format, "format", "text", "Input format: text (space-separated ids per line) or cbor")
	return cmd
}
