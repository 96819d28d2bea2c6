package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
)

var (
	backupKind          string
	backupName          string
	backupCollections   []string
	backupNoFiles       bool
	backupCompression   string
	backupRetentionDays int
	backupQuiet         bool

	listStatuses []string
	listKinds    []string
	listLimit    int
	listOffset   int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and manage backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()
		ctx := operatorContext(cmd.Context())

		opts := service.CreateOptions{Collections: backupCollections}
		if cmd.Flags().Changed("no-files") {
			includeFiles := !backupNoFiles
			opts.IncludeFiles = &includeFiles
		}
		if backupCompression != "" {
			compression := domain.Compression(backupCompression)
			opts.Compression = &compression
		}
		if backupRetentionDays > 0 {
			opts.RetentionDays = &backupRetentionDays
		}

		if !backupQuiet {
			unsubscribe := services.Engine.OnProgress(func(ev domain.ProgressEvent) {
				fmt.Printf("[%3d%%] %s\n", ev.OverallProgress, ev.StepName)
			})
			defer unsubscribe()
		}

		backup, err := services.Engine.CreateBackup(ctx, domain.BackupKind(backupKind), backupName, opts)
		if err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		fmt.Printf("Backup %s started\n", backup.ID)

		if err := services.Engine.Wait(cmd.Context()); err != nil {
			return err
		}

		backup, err = services.Engine.GetBackupByID(ctx, backup.ID)
		if err != nil {
			return err
		}
		printBackup(backup)
		if backup.Status != domain.BackupStatusCompleted {
			return fmt.Errorf("backup %s ended %s", backup.ID, backup.Status)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		filter := repository.BackupFilter{Limit: listLimit, Offset: listOffset}
		for _, s := range listStatuses {
			status := domain.BackupStatus(s)
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
		for _, k := range listKinds {
			kind := domain.BackupKind(k)
			if !kind.Valid() {
				return fmt.Errorf("unknown kind %q", k)
			}
			filter.Kinds = append(filter.Kinds, kind)
		}

		backups, total, err := services.Engine.FindBackups(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(backups) == 0 {
			fmt.Println("No backups found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSIZE\tSTARTED AT\tEXPIRES AT")
		for _, b := range backups {
			size := "-"
			if b.SizeBytes != nil {
				size = fmt.Sprintf("%d", *b.SizeBytes)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				b.ID,
				b.Kind,
				b.Status,
				size,
				b.StartedAt.Format("2006-01-02 15:04:05"),
				b.ExpiresAt.Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()
		fmt.Printf("\n%d of %d backups\n", len(backups), total)

		return nil
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show one backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		backup, err := services.Engine.GetBackupByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printBackup(backup)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup and its artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		if err := services.Engine.DeleteBackup(operatorContext(cmd.Context()), args[0]); err != nil {
			return fmt.Errorf("failed to delete backup: %w", err)
		}
		fmt.Printf("Backup %s deleted\n", args[0])
		return nil
	},
}

var backupValidateCmd = &cobra.Command{
	Use:   "validate <backup-id>",
	Short: "Check a backup's artifact against its recorded checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		report, err := services.Engine.ValidateBackup(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Backup:           %s\n", report.BackupID)
		fmt.Printf("Valid:            %t\n", report.IsValid)
		fmt.Printf("Checksum matches: %t\n", report.ChecksumMatches)
		fmt.Printf("Size matches:     %t\n", report.SizeMatches)
		for _, e := range report.Errors {
			fmt.Printf("  error:   %s\n", e)
		}
		for _, warning := range report.Warnings {
			fmt.Printf("  warning: %s\n", warning)
		}
		if !report.IsValid {
			return fmt.Errorf("backup %s failed validation", report.BackupID)
		}
		return nil
	},
}

var backupCancelCmd = &cobra.Command{
	Use:   "cancel <backup-id>",
	Short: "Cancel a running backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		backup, err := services.Engine.CancelBackup(operatorContext(cmd.Context()), args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel backup: %w", err)
		}
		fmt.Printf("Backup %s is %s\n", backup.ID, backup.Status)
		return nil
	},
}

func printBackup(b *domain.BackupRecord) {
	fmt.Printf("ID:           %s\n", b.ID)
	if b.Name != "" {
		fmt.Printf("Name:         %s\n", b.Name)
	}
	fmt.Printf("Kind:         %s\n", b.Kind)
	fmt.Printf("Status:       %s (%d%%)\n", b.Status, b.Progress)
	fmt.Printf("Collections:  %s\n", strings.Join(b.CollectionsIncluded, ", "))
	fmt.Printf("Files:        %t\n", b.IncludeFiles)
	fmt.Printf("Compression:  %s\n", b.Compression)
	if b.SizeBytes != nil {
		fmt.Printf("Size:         %d bytes\n", *b.SizeBytes)
	}
	if b.Checksum != nil {
		fmt.Printf("Checksum:     %s\n", *b.Checksum)
	}
	fmt.Printf("Started at:   %s\n", b.StartedAt.Format("2006-01-02 15:04:05"))
	if b.FinishedAt != nil {
		fmt.Printf("Finished at:  %s\n", b.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Expires at:   %s\n", b.ExpiresAt.Format("2006-01-02 15:04:05"))
	if b.ErrorMessage != nil {
		fmt.Printf("Error:        %s\n", *b.ErrorMessage)
	}
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupValidateCmd)
	backupCmd.AddCommand(backupCancelCmd)

	backupCreateCmd.Flags().StringVar(&backupKind, "kind", string(domain.BackupKindManual), "Backup kind (full, incremental, manual, emergency)")
	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "Optional backup name")
	backupCreateCmd.Flags().StringSliceVar(&backupCollections, "collections", nil, "Collections to capture (default from backup config)")
	backupCreateCmd.Flags().BoolVar(&backupNoFiles, "no-files", false, "Skip the file manifest")
	backupCreateCmd.Flags().StringVar(&backupCompression, "compression", "", "Compression (none, gzip, zip)")
	backupCreateCmd.Flags().IntVar(&backupRetentionDays, "retention-days", 0, "Override retention in days")
	backupCreateCmd.Flags().BoolVarP(&backupQuiet, "quiet", "q", false, "Do not print progress")

	backupListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status")
	backupListCmd.Flags().StringSliceVar(&listKinds, "kind", nil, "Filter by kind")
	backupListCmd.Flags().IntVar(&listLimit, "limit", 25, "Maximum number of backups")
	backupListCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of backups to skip")
}
