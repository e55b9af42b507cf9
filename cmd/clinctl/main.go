// Command clinctl runs the risk and extraction pipeline against JSON files,
// without the server or a database. It is meant for prompt tuning:
//
//	clinctl risk --visit visit.json --patient patient.json --previous prev.json
//	clinctl extract --note note.json
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/config"
	"github.com/nyashahama/clinical-risk-backend/internal/risk"
)

// assessorFactory is swapped in tests so no model is called.
type assessorFactory func(logger *slog.Logger) (risk.Assessor, error)

func main() {
	if err := newRootCmd(modelAssessor).Execute(); err != nil {
		os.Exit(1)
	}
}

func modelAssessor(logger *slog.Logger) (risk.Assessor, error) {
	cfg, err := config.LoadModelOnly(".env")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	gen, err := cfg.Providers().Generator(logger)
	if err != nil {
		return nil, err
	}
	return risk.NewEngine(gen, logger), nil
}

func newRootCmd(factory assessorFactory) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "clinctl",
		Short:         "Run the clinical risk pipeline on local files",
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline diagnostics to stderr")

	logger := func(cmd *cobra.Command) *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}

	root.AddCommand(riskCmd(factory, logger))
	root.AddCommand(extractCmd(factory, logger))
	return root
}

func riskCmd(factory assessorFactory, logger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var visitPath, patientPath, previousPath string

	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Assess the risk of a visit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				visit    clinical.VisitData
				patient  clinical.PatientData
				previous []clinical.VisitData
			)
			if err := readJSON(visitPath, &visit); err != nil {
				return err
			}
			if patientPath != "" {
				if err := readJSON(patientPath, &patient); err != nil {
					return err
				}
			}
			if previousPath != "" {
				if err := readJSON(previousPath, &previous); err != nil {
					return err
				}
			}

			assessor, err := factory(logger(cmd))
			if err != nil {
				return err
			}
			a := assessor.AnalyzeVisitRisk(cmd.Context(), visit, patient, previous)
			if a.Degraded() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: assessment is degraded; rerun with -v for details")
			}
			return writeJSON(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVar(&visitPath, "visit", "", "visit JSON file (required)")
	cmd.Flags().StringVar(&patientPath, "patient", "", "patient JSON file")
	cmd.Flags().StringVar(&previousPath, "previous", "", "JSON array of earlier visits, newest first")
	_ = cmd.MarkFlagRequired("visit")
	return cmd
}

func extractCmd(factory assessorFactory, logger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var notePath string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract structured data from a note",
		Long: "Reads a JSON object of note sections. Any other file content is\n" +
			"treated as a raw transcription.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := readNote(notePath)
			if err != nil {
				return err
			}

			assessor, err := factory(logger(cmd))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), assessor.ExtractStructuredData(cmd.Context(), content))
		},
	}
	cmd.Flags().StringVar(&notePath, "note", "", "note file (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func readJSON(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func readNote(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var sections map[string]string
	if err := json.Unmarshal(b, &sections); err == nil {
		return sections, nil
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return map[string]string{"transcription": text}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
