package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the stored backup configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the backup configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		backupCfg, err := services.Engine.GetBackupConfig(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "auto_backup_enabled\t%t\n", backupCfg.AutoBackupEnabled)
		fmt.Fprintf(w, "schedule_type\t%s\n", backupCfg.ScheduleType)
		fmt.Fprintf(w, "schedule_time_of_day\t%s\n", backupCfg.ScheduleTimeOfDay)
		fmt.Fprintf(w, "retention_days\t%d\n", backupCfg.RetentionDays)
		fmt.Fprintf(w, "compression\t%s\n", backupCfg.Compression)
		fmt.Fprintf(w, "include_files\t%t\n", backupCfg.IncludeFiles)
		fmt.Fprintf(w, "include_file_contents\t%t\n", backupCfg.IncludeFileContents)
		fmt.Fprintf(w, "include_database\t%t\n", backupCfg.IncludeDatabase)
		fmt.Fprintf(w, "max_backups\t%d\n", backupCfg.MaxBackups)
		fmt.Fprintf(w, "collections\t%s\n", strings.Join(backupCfg.Collections, ","))
		if !backupCfg.UpdatedAt.IsZero() {
			fmt.Fprintf(w, "updated_at\t%s\n", backupCfg.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key=value>...",
	Short:   "Change one or more settings",
	Example: "  vaultkeep config set auto_backup_enabled=true schedule_time_of_day=03:30 max_backups=14",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := initServices(cmd.Context())
		if err != nil {
			return err
		}
		defer services.Close()

		backupCfg, err := services.Engine.GetBackupConfig(cmd.Context())
		if err != nil {
			return err
		}
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected key=value, got %q", arg)
			}
			if err := setConfigValue(backupCfg, key, value); err != nil {
				return err
			}
		}

		if err := services.Engine.UpdateBackupConfig(cmd.Context(), backupCfg); err != nil {
			return fmt.Errorf("failed to update config: %w", err)
		}
		fmt.Println("Backup configuration updated")
		return nil
	},
}

// setConfigValue applies one key=value pair. Range checks are left to
// BackupConfig.Validate.
func setConfigValue(c *domain.BackupConfig, key, value string) error {
	var err error
	switch key {
	case "auto_backup_enabled":
		c.AutoBackupEnabled, err = strconv.ParseBool(value)
	case "schedule_type":
		c.ScheduleType = domain.ScheduleType(value)
	case "schedule_time_of_day":
		c.ScheduleTimeOfDay = value
	case "retention_days":
		c.RetentionDays, err = strconv.Atoi(value)
	case "compression":
		c.Compression = domain.Compression(value)
	case "include_files":
		c.IncludeFiles, err = strconv.ParseBool(value)
	case "include_file_contents":
		c.IncludeFileContents, err = strconv.ParseBool(value)
	case "include_database":
		c.IncludeDatabase, err = strconv.ParseBool(value)
	case "max_backups":
		c.MaxBackups, err = strconv.Atoi(value)
	case "collections":
		c.Collections = []string{}
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Collections = append(c.Collections, name)
			}
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
