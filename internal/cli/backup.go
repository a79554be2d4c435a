package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/internal/backup"
)

func (o *options) backupManager(cmd *cobra.Command, dir string) (*backup.Manager, error) {
	path := o.getDBPath()
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), "backups")
	}
	return backup.NewManager(path, dir, backup.DefaultRetention(), o.logger(cmd))
}

func newBackupCmd(opts *options) *cobra.Command {
	var dir string
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database",
		Long:  "Write a verified snapshot of the database and prune old snapshots (24 hourly, 7 daily, 4 weekly, 12 monthly).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.backupManager(cmd, dir)
			if err != nil {
				return err
			}

			if list {
				snapshots, err := m.List()
				if err != nil {
					return err
				}
				return opts.render(cmd, snapshots, func(w io.Writer) {
					if len(snapshots) == 0 {
						fmt.Fprintln(w, "No backups.")
						return
					}
					for _, s := range snapshots {
						fmt.Fprintf(w, "%s  %s  %d bytes\n", s.CreatedAt.Format("2006-01-02 15:04:05"), s.Path, s.Size)
					}
				})
			}

			result, err := m.Backup(cmd.Context())
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			return opts.render(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "Backed up to %s (%d bytes, %d pruned).\n", result.Path, result.Size, result.Pruned)
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Backup directory (default: backups/ next to the database)")
	cmd.Flags().BoolVar(&list, "list", false, "List snapshots instead of taking one")
	return cmd
}

func newRestoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore BACKUP_FILE",
		Short: "Replace the database with a snapshot",
		Long:  "Replace the database with a verified snapshot. No server or other command may be using the database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.backupManager(cmd, "")
			if err != nil {
				return err
			}
			if err := m.Restore(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			restored := map[string]string{"restored_from": args[0], "database": opts.getDBPath()}
			return opts.render(cmd, restored, func(w io.Writer) {
				fmt.Fprintf(w, "Restored %s from %s.\n", opts.getDBPath(), args[0])
			})
		},
	}
}
