package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dataset-export-service/internal/adapters/secondary/storage"
	"dataset-export-service/internal/core/domain"
)

func exportCommand(load loader) *cobra.Command {
	var (
		versionID int64
		format    string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Build the archive of a version into a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := domain.ParseExportFormat(format)
			if err != nil {
				return err
			}

			deps, err := load(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			snap, err := deps.Reader.Resolve(ctx, versionID)
			if err != nil {
				return err
			}
			if out == "" {
				out = snap.Version().ArchiveName(f)
			}

			dir, err := filepath.Abs(filepath.Dir(out))
			if err != nil {
				return err
			}
			target, err := storage.NewLocalStore(dir, "")
			if err != nil {
				return err
			}
			w, err := target.OpenWrite(ctx, filepath.Base(out))
			if err != nil {
				return err
			}

			stderr := cmd.ErrOrStderr()
			report, err := deps.Builder.Build(ctx, snap, f, w, func(pct int, status string) {
				fmt.Fprintf(stderr, "%3d%% %s\n", pct, status)
			})
			if err != nil {
				return errors.Join(err, w.Abort())
			}
			size, err := w.Commit(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes): %d images, %d augmentations, %d skipped entries, %d skipped annotations\n",
				out, size, report.EntriesWritten, report.AugmentationsWritten,
				report.EntriesSkipped+report.AugmentationsSkipped, report.AnnotationsSkipped)
			for _, skip := range report.Skipped {
				fmt.Fprintf(stderr, "skipped %s\n", skip.Error())
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&versionID, "version", 0, "Version id to export")
	cmd.Flags().StringVar(&format, "format", string(domain.FormatYOLO), "Label format: yolo, coco or custom")
	cmd.Flags().StringVar(&out, "out", "", "Output file (defaults to the archive name in the current directory)")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}
