package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/config"
	"github.com/54b3r/finqa-go/internal/ingestion"
	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/provider"
	"github.com/54b3r/finqa-go/internal/tracing"
)

// NewIndexCmd constructs the `finqa index` command group.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the knowledge base index",
	}
	cmd.AddCommand(newIndexBuildCmd(), newIndexEnrichCmd(), newIndexFetchCmd())
	return cmd
}

// dataDirs returns the PDF and Q&A directories the loader reads.
func dataDirs() (pdfDir, qaDir string) {
	return config.String("DATA_PDF_DIR", "data/pdfs"), config.String("DATA_QA_DIR", "data/qa")
}

func newIndexBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild the index from the data directories",
		Long: `Load every PDF in DATA_PDF_DIR and every Q&A file in DATA_QA_DIR, embed
the chunks and replace the index. The flat index is saved to INDEX_PATH and
the state file is updated.

Examples:
  finqa index build
  DATA_PDF_DIR=./filings INDEX_BACKEND=qdrant finqa index build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			sys, _, cleanup, err := openSystem(cmd.Context(), log, nil, true)
			if err != nil {
				return fmt.Errorf("index build: %w", err)
			}
			defer cleanup()

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks\n", sys.Index().Len())
			return nil
		},
	}
}

func newIndexEnrichCmd() *cobra.Command {
	var pdfOnly, qaOnly bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Extract report and question metadata with the chat model",
		Long: `Ask the configured chat model for structured metadata about the knowledge
base. Each filing in DATA_PDF_DIR gets company, stock code, year, report type,
key topics and a summary, cached in DATA_PDF_DIR/metadata.json. Each Q&A file
in DATA_QA_DIR gets a cleaned and classified copy under DATA_QA_DIR/enhanced.
Files already enriched are skipped. The next 'finqa index build' adds the
results to chunk metadata.

Examples:
  finqa index enrich
  finqa index enrich --pdf
  MODEL_PROVIDER=openai finqa index enrich --qa`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			flush := tracing.Setup(log)
			defer flush()

			cm, _, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("index enrich: %w", err)
			}
			pdfDir, qaDir := dataDirs()
			if qaOnly && !pdfOnly {
				pdfDir = ""
			}
			if pdfOnly && !qaOnly {
				qaDir = ""
			}
			e, err := ingestion.NewEnricher(cm, ingestion.EnrichConfig{PDFDir: pdfDir, QADir: qaDir}, log)
			if err != nil {
				return fmt.Errorf("index enrich: %w", err)
			}

			pdfs, err := e.EnrichPDFs(ctx)
			if err != nil {
				return fmt.Errorf("index enrich: %w", err)
			}
			qa, err := e.EnrichQA(ctx)
			if err != nil {
				return fmt.Errorf("index enrich: %w", err)
			}
			log.Info("enrich: finished",
				slog.Any("pdf", pdfs),
				slog.Any("qa", qa),
			)
			printEnrichStats(cmd.OutOrStdout(), "filings", pdfs)
			printEnrichStats(cmd.OutOrStdout(), "q&a files", qa)
			return nil
		},
	}

	cmd.Flags().BoolVar(&pdfOnly, "pdf", false, "Only enrich PDF filings")
	cmd.Flags().BoolVar(&qaOnly, "qa", false, "Only enrich Q&A files")
	return cmd
}

func printEnrichStats(w io.Writer, what string, s ingestion.EnrichStats) {
	fmt.Fprintf(w, "%s: %d enriched, %d already cached, %d failed\n", what, s.Enriched, s.Cached, s.Failed)
}

func newIndexFetchCmd() *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the documents listed in a manifest",
		Long: `Download filings and Q&A files into DATA_PDF_DIR and DATA_QA_DIR. The
manifest is YAML:

  sources:
    - url: https://static.example.com/finalpage/2024-03-30/600519_2023.pdf
      kind: pdf
    - url: https://qa.example.com/export/page1.json
      kind: qa
      name: qa_page_1.json

PDF downloads must be PDF documents and Q&A downloads JSON arrays of
{question, answer, id}. Files already present are skipped.

Examples:
  finqa index fetch
  finqa index fetch --manifest sources.yaml && finqa index build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			if manifest == "" {
				manifest = config.String("FETCH_MANIFEST", "data/sources.yaml")
			}
			m, err := ingestion.LoadManifest(manifest)
			if err != nil {
				return fmt.Errorf("index fetch: %w", err)
			}
			pdfDir, qaDir := dataDirs()
			f := ingestion.NewFetcher(ingestion.FetchConfig{
				PDFDir:    pdfDir,
				QADir:     qaDir,
				UserAgent: config.String("FETCH_USER_AGENT", ingestion.DefaultUserAgent),
			}, log)

			stats, err := f.Fetch(cmd.Context(), m.Sources)
			if err != nil {
				return fmt.Errorf("index fetch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d downloaded, %d already present, %d failed\n",
				stats.Downloaded, stats.Skipped, stats.Failed)
			if stats.Failed > 0 {
				return fmt.Errorf("index fetch: %d of %d sources failed", stats.Failed, len(m.Sources))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to the YAML source manifest (default: FETCH_MANIFEST or data/sources.yaml)")
	return cmd
}
