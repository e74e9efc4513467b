package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"studio/internal/domain"
	"studio/internal/export"
	"studio/internal/infra"
	"studio/internal/render"
)

func newExportCommand(cc *commandContext) *cobra.Command {
	var out string
	var watermark bool

	cmd := &cobra.Command{
		Use:   "export <resource-id>...",
		Short: "Render resources to PDF and write them into a zip archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			backend, err := cc.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}

			renderLogger := infra.Component(cc.logger, "render")
			renderer := render.NewClient(render.Options{
				BaseURL:        cfg.RenderServiceURL,
				Logger:         &renderLogger,
				RequestTimeout: cfg.RenderTimeout + 5*time.Second,
			})
			runner := export.NewRunner(backend.Store, renderer, backend.Blobs, cc.logger,
				export.WithRenderTimeout(cfg.RenderTimeout),
				export.WithReporter(backend.Reporter),
			)

			job := export.NewJob(uuid.NewString(), args, watermark, time.Now().UTC())
			progressDone := make(chan struct{})
			if stderr := cmd.ErrOrStderr(); isTerminal(stderr) {
				updates, unsubscribe := job.Subscribe()
				defer unsubscribe()
				go func() {
					defer close(progressDone)
					printProgress(stderr, updates)
				}()
			} else {
				close(progressDone)
			}

			res, err := runner.Run(cmd.Context(), job)
			<-progressDone
			if err != nil {
				return err
			}
			return finishExport(cmd.OutOrStdout(), res, out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "export.zip", "Archive path")
	cmd.Flags().BoolVar(&watermark, "watermark", false, "Stamp a watermark on every page")
	return cmd
}

// finishExport writes the archive and a short summary. Cancelled and empty
// exports produce no file.
func finishExport(w io.Writer, res *export.Result, out string) error {
	switch res.State {
	case domain.ExportStateCancelled:
		return errors.New("export cancelled; no archive written")
	case domain.ExportStateCompletedEmpty:
		return fmt.Errorf("%w: skipped %s", domain.ErrEmptyExport, strings.Join(res.Skipped, ", "))
	}
	if err := writeArchive(out, res.Archive); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s (%d PDF", out, res.SuccessCount)
	if res.SuccessCount != 1 {
		fmt.Fprint(w, "s")
	}
	fmt.Fprintln(w, ")")
	if len(res.Skipped) > 0 {
		rows := make([][]string, 0, len(res.Skipped))
		for _, name := range res.Skipped {
			rows = append(rows, []string{name})
		}
		fmt.Fprintln(w, renderTable([]string{"Skipped"}, rows))
	}
	return nil
}

// writeArchive writes through a temp file in the target directory so a
// failed write never leaves a truncated archive behind.
func writeArchive(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".export-*.zip")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

func printProgress(w io.Writer, updates <-chan domain.ExportStatus) {
	for st := range updates {
		if line := progressLine(st); line != "" {
			fmt.Fprintf(w, "\r\033[K%s", line)
		}
		if st.State.Settled() {
			fmt.Fprintln(w)
		}
	}
}

func progressLine(st domain.ExportStatus) string {
	if st.Progress == nil {
		return ""
	}
	line := fmt.Sprintf("[%d/%d] %s", st.Progress.Current, st.Progress.Total, st.Progress.CurrentName)
	if n := len(st.Skipped); n > 0 {
		line += fmt.Sprintf(" (%d skipped)", n)
	}
	return line
}
