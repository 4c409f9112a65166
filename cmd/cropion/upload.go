package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shivam-nitt/CropionApp/pkg/api"
	"github.com/Shivam-nitt/CropionApp/pkg/config"
	"github.com/Shivam-nitt/CropionApp/pkg/logger"
	"github.com/Shivam-nitt/CropionApp/pkg/transfer"
)

var (
	uploadServer    string
	uploadMaxChunks int
	uploadTimeout   time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file in resumable chunks",
	Long: `Upload sends a file to the collection server chunk by chunk.
If a previous run was interrupted, upload resumes the same session and
only sends the chunks the server is missing. --max-chunks stops the run
after a fixed number of chunks, leaving the transfer resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadServer, "server", "", "server base URL (default from config)")
	uploadCmd.Flags().IntVar(&uploadMaxChunks, "max-chunks", -1, "stop after sending this many chunks (-1 for unlimited)")
	uploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 60*time.Second, "per-request timeout")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	serverURL, err := resolveServerURL()
	if err != nil {
		return err
	}

	log := logger.New(verbose)
	client := api.NewClient(serverURL, uploadTimeout)
	controller := transfer.NewController(client, transfer.DefaultRetryPolicy(), log)

	result, err := controller.Run(cmd.Context(), args[0], uploadMaxChunks)
	if err != nil {
		if result != nil && result.Outcome == transfer.OutcomeIncomplete {
			return &incompleteError{err: err}
		}
		return err
	}

	if result.Outcome == transfer.OutcomeIncomplete {
		fmt.Printf("Upload paused: %d/%d chunks stored (session %s)\n",
			result.SentChunks+result.SkippedChunks, result.TotalChunks, result.UploadID)
		fmt.Println("Run the command again to resume.")
		return &incompleteError{err: fmt.Errorf("upload incomplete")}
	}

	if result.ArtifactPath != "" {
		fmt.Printf("Upload complete: %s\n", result.ArtifactPath)
	} else {
		fmt.Println("Upload complete.")
	}
	if result.SkippedChunks > 0 {
		fmt.Printf("Resumed session %s: sent %d chunks, skipped %d already stored.\n",
			result.UploadID, result.SentChunks, result.SkippedChunks)
	}
	return nil
}

func resolveServerURL() (string, error) {
	if uploadServer != "" {
		if err := config.ValidateServerURL(uploadServer); err != nil {
			return "", err
		}
		return uploadServer, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.ServerURL, nil
}
