package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shivam-nitt/CropionApp/pkg/api"
	"github.com/Shivam-nitt/CropionApp/pkg/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status <file>",
	Short: "Show upload progress for a file",
	Long: `Status reads the local progress sidecar for a file and, when an
upload is in flight, queries the server for the authoritative set of
stored chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&uploadServer, "server", "", "server base URL (default from config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	rec, err := progress.Load(filePath)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("No upload in progress for", filePath)
		return nil
	}

	fmt.Printf("Session:      %s\n", rec.UploadID)
	fmt.Printf("Filename:     %s\n", rec.Filename)
	fmt.Printf("File size:    %d bytes\n", rec.FileSize)
	fmt.Printf("Chunk size:   %d bytes\n", rec.ChunkSize)
	fmt.Printf("Total chunks: %d\n", rec.TotalChunks())

	serverURL, err := resolveServerURL()
	if err != nil {
		return err
	}

	client := api.NewClient(serverURL, 30*time.Second)
	status, err := client.Status(cmd.Context(), rec.UploadID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			fmt.Println("Server:       session unknown (next upload starts fresh)")
			return nil
		}
		return fmt.Errorf("failed to query server: %w", err)
	}

	fmt.Printf("Server:       %s, %d/%d chunks stored\n",
		status.Status, len(status.UploadedChunks), rec.TotalChunks())
	return nil
}
