package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"photodrop/services/api/internal/config"
	"photodrop/services/backup"
)

func newExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored artifact to a tar.zst backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			signer, err := backup.SignerFromEnv()
			if err != nil {
				return err
			}

			st, err := openStorage(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer st.close()

			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}

			manifest, err := backup.Export(ctx, st.store, file, backup.ExportConfig{Signer: signer})
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(output)
				return err
			}

			signed := "unsigned"
			if manifest.Signature != "" {
				signed = "signed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s backup %s (%d artifacts)\n", signed, output, len(manifest.Artifacts))
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination backup file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newImportCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore artifacts from a tar.zst backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			signer, err := backup.SignerFromEnv()
			if err != nil {
				return err
			}

			st, err := openStorage(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer st.close()

			file, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open backup: %w", err)
			}
			defer file.Close()

			result, err := backup.Import(ctx, st.store, file, backup.ImportConfig{Signer: signer})
			if err != nil {
				if result.Imported > 0 {
					return errors.Join(err, fmt.Errorf("%d artifacts were restored before the failure", result.Imported))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d artifacts, %d already present\n", result.Imported, result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "file", "", "Path to the backup tar.zst")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
