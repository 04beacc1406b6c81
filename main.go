package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Karinza38/BlaGPT/megabyte"
	"github.com/Karinza38/BlaGPT/params"
)

var (
	flagDims    []int
	flagDepths  []int
	flagSeqLens []int
	flagVocab   int
	flagSeed    uint64
	flagDebug   bool
	flagModel   string
)

func buildConfig() params.Config {
	cfg := params.Default()
	if len(flagDims) > 0 {
		cfg.Dims = flagDims
	}
	if len(flagDepths) > 0 {
		cfg.Depths = flagDepths
	}
	if len(flagSeqLens) > 0 {
		cfg.MaxSeqLens = flagSeqLens
	}
	if flagVocab > 0 {
		cfg.NumTokens = flagVocab
		cfg.PadID = flagVocab - 1
	}
	cfg.Seed = flagSeed
	cfg.Debug = flagDebug
	return cfg
}

func buildModel() (*megabyte.Model, error) {
	cfg := buildConfig()
	if flagModel != "" {
		return megabyte.LoadModel(flagModel, cfg)
	}
	return megabyte.Build("megabyte", cfg)
}

func parsePrime(s string) ([][]int, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Fields(s)
	ids := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad prime token %q: %w", f, err)
		}
		ids[i] = v
	}
	return [][]int{ids}, nil
}

func newGenerateCmd() *cobra.Command {
	var (
		temperature float64
		filterThres float64
		batchSize   int
		prime       string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample full-length sequences from the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildModel()
			if err != nil {
				return err
			}
			p, err := parsePrime(prime)
			if err != nil {
				return err
			}
			out, err := m.Generate(p, filterThres, temperature, batchSize)
			if err != nil {
				return err
			}
			per := out.PerBatch()
			for b := 0; b < out.Batch; b++ {
				row := out.Data[b*per : (b+1)*per]
				parts := make([]string, len(row))
				for i, id := range row {
					parts[i] = strconv.Itoa(id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " "))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&temperature, "temperature", 1.0, "sampling temperature")
	cmd.Flags().Float64Var(&filterThres, "filter-thres", 0.9, "top-k filter threshold (fraction of vocab removed)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "sequences to sample when no prime is given")
	cmd.Flags().StringVar(&prime, "prime", "", "space-separated token ids to seed generation")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the stage layout for the current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := buildConfig()
			stages, err := cfg.Stages()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "vocab %d, pad %d, total length %d\n", cfg.NumTokens, cfg.PadID, cfg.TotalSeqLen())
			fmt.Fprintf(w, "%-6s %-6s %-6s %-8s %-6s\n", "stage", "dim", "depth", "seqlen", "patch")
			for _, s := range stages {
				fmt.Fprintf(w, "%-6d %-6d %-6d %-8d %-6d\n", s.Index, s.Dim, s.Depth, s.SeqLen, s.PatchSize)
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "megabyte",
		Short:         "Hierarchical multi-stage autoregressive sequence model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntSliceVar(&flagDims, "dims", nil, "per-stage model widths, coarse to fine")
	root.PersistentFlags().IntSliceVar(&flagDepths, "depths", nil, "per-stage layer counts")
	root.PersistentFlags().IntSliceVar(&flagSeqLens, "seq-lens", nil, "per-stage window lengths")
	root.PersistentFlags().IntVar(&flagVocab, "vocab", 0, "vocabulary size override (pad id becomes vocab-1)")
	root.PersistentFlags().Uint64Var(&flagSeed, "seed", 1, "weight initialisation seed")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "load weights from this gob file")

	root.AddCommand(newGenerateCmd(), newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
