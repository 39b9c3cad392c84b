package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/podium/internal/classifier"
	"github.com/MeKo-Tech/podium/internal/ensemble"
	"github.com/MeKo-Tech/podium/internal/imageutil"
	"github.com/MeKo-Tech/podium/internal/pipeline"
	"github.com/MeKo-Tech/podium/internal/preprocess"
	"github.com/MeKo-Tech/podium/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// processCmd represents the process command.
var processCmd = &cobra.Command{
	Use:   "process [image...]",
	Short: "Process standings screenshots from local files",
	Long: `Run one or more local screenshot files through the full extraction
pipeline and print the outcome for each as JSON.

Results are recorded in the configured store, so a reviewer can pick
up flagged submissions through the API later.

Examples:
  podium process screenshot.png
  podium process --round r42 --lobby A lobby-a/*.png
  podium process --store :memory: screenshot.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		roundID, _ := cmd.Flags().GetString("round")
		lobbyID, _ := cmd.Flags().GetString("lobby")
		if path, _ := cmd.Flags().GetString("store"); path != "" {
			cfg.Store.Path = path
		}

		logger := slog.Default()
		ctx := cmd.Context()

		st, err := store.Open(cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = st.Close() }()

		rc, err := loadRoster(ctx, cfg, st, logger)
		if err != nil {
			return err
		}

		engines, err := buildEngines(cfg)
		if err != nil {
			return err
		}
		defer closeEngines(engines)

		ens, err := ensemble.New(cfg.Pipeline.Ensemble, preprocess.Variants(cfg.Preprocess), engines)
		if err != nil {
			return fmt.Errorf("building ensemble: %w", err)
		}
		cls := classifier.New(cfg.Pipeline.Classifier, engines[0])

		pipe, err := pipeline.New(cfg.Pipeline, cls, ens, rc, st, logger)
		if err != nil {
			return fmt.Errorf("building pipeline: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		var failed bool
		for _, path := range args {
			result, err := processFile(ctx, pipe, st, path, roundID, lobbyID)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed = true
				continue
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
		}
		if failed {
			return errors.New("some files failed to process")
		}
		return nil
	},
}

// fileResult is the per-file output of the process command.
type fileResult struct {
	File         string            `json:"file"`
	SubmissionID string            `json:"submission_id"`
	Status       store.Status      `json:"status"`
	Score        float64           `json:"score"`
	Reasons      []string          `json:"reasons,omitempty"`
	Rows         []store.Placement `json:"rows,omitempty"`
}

func processFile(ctx context.Context, pipe *pipeline.Pipeline, st *store.Store,
	path, roundID, lobbyID string,
) (*fileResult, error) {
	if !imageutil.IsSupported(path) {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied input file
	if err != nil {
		return nil, err
	}

	sub := &store.Submission{
		SubmissionID: uuid.NewString(),
		SourceRef:    "file:" + filepath.Clean(path),
		ContentHash:  imageutil.ContentHash(data),
		RoundID:      roundID,
		LobbyID:      lobbyID,
	}
	created, err := st.CreateSubmission(ctx, sub)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return &fileResult{
				File:         path,
				SubmissionID: created.SubmissionID,
				Status:       store.StatusDuplicate,
			}, nil
		}
		return nil, err
	}

	outcome, err := pipe.Process(ctx, created.SubmissionID, data)
	if err != nil {
		return nil, err
	}
	return &fileResult{
		File:         path,
		SubmissionID: created.SubmissionID,
		Status:       outcome.Status,
		Score:        outcome.Score,
		Reasons:      outcome.Reasons,
		Rows:         outcome.Rows,
	}, nil
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("round", "", "round identifier to record on the submissions")
	processCmd.Flags().String("lobby", "", "lobby identifier to record on the submissions")
	processCmd.Flags().String("store", "", "override the store database path")
}
