package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a retention sweep",
	Long:  "Apply the retention policy: expire old backups, enforce max_backups and purge expired records past the audit window",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		result, err := services.Engine.Sweep(operatorContext(cmd.Context()))
		if err != nil {
			return fmt.Errorf("retention sweep failed: %w", err)
		}

		if result.Total() == 0 {
			fmt.Println("Nothing to clean up")
			return nil
		}
		fmt.Printf("Deleted: %d\n", len(result.Deleted))
		if len(result.Expired) > 0 {
			fmt.Printf("  kept as expired: %s\n", strings.Join(result.Expired, ", "))
		}
		if len(result.Purged) > 0 {
			fmt.Printf("Purged:  %s\n", strings.Join(result.Purged, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
