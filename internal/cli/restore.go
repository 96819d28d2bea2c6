package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

var (
	restoreCollections []string
	restoreFiles       bool
	restoreNoRecords   bool
	restoreYes         bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore live data from a completed backup",
	Long: `Restore overwrites the selected collections with the contents of a
completed backup. Pass --yes to confirm the overwrite.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		req := domain.RestoreRequest{
			BackupID:          args[0],
			RestoreRecords:    !restoreNoRecords,
			RestoreFiles:      restoreFiles,
			TargetCollections: restoreCollections,
			ConfirmOverwrite:  restoreYes,
		}

		result, err := services.Engine.RestoreFromBackup(operatorContext(cmd.Context()), req)
		var partial *domain.PartialFailureError
		if err != nil && !(errors.As(err, &partial) && result != nil) {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restore %s: %s\n", result.ID, result.Status)
		if len(result.RestoredCollections) > 0 {
			fmt.Printf("Restored:      %s\n", strings.Join(result.RestoredCollections, ", "))
		}
		if len(result.FailedCollections) > 0 {
			fmt.Printf("Failed:        %s\n", strings.Join(result.FailedCollections, ", "))
		}
		if partial != nil && len(partial.Skipped) > 0 {
			fmt.Printf("Not attempted: %s\n", strings.Join(partial.Skipped, ", "))
		}
		if result.FilesRestored {
			fmt.Println("Files:         restored")
		}
		for _, warning := range result.Warnings {
			fmt.Printf("Warning:       %s\n", warning)
		}
		if result.ErrorMessage != nil {
			fmt.Printf("Error:         %s\n", *result.ErrorMessage)
		}

		return err
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringSliceVar(&restoreCollections, "collections", nil, "Collections to restore (default all in the backup)")
	restoreCmd.Flags().BoolVar(&restoreFiles, "files", false, "Also restore the file manifest")
	restoreCmd.Flags().BoolVar(&restoreNoRecords, "no-records", false, "Skip record collections")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Confirm overwriting live data")
}
