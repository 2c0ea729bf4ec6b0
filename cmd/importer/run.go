package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/avangerus/kalita-import/internal/app"
	"github.com/avangerus/kalita-import/internal/config"
	"github.com/avangerus/kalita-import/internal/importer"
)

type runFlags struct {
	envFiles []string
	entity   string
	file     string
	lookup   string
	assocs   []string
	format   string
}

func newRootCmd(out io.Writer) *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:           "kalita-import",
		Short:         "Загрузка CSV/XLSX в сущности Kalita из командной строки",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "файлы окружения (по умолчанию .env, .env.local)")
	root.AddCommand(newRunCmd(out, &envFiles), newDescribeCmd(out, &envFiles))
	return root
}

// parseAssocs: ["author=email", "commentable=photo.title"] -> map
func parseAssocs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, errors.Errorf("bad --assoc %q, want field=key", p)
		}
		out[k] = v
	}
	return out, nil
}

func newRunCmd(out io.Writer, envFiles *[]string) *cobra.Command {
	var fl runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Загрузить файл",
		RunE: func(cmd *cobra.Command, _ []string) error {
			assocs, err := parseAssocs(fl.assocs)
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd, *envFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			var up *importer.Upload
			if fl.file != "" {
				data, err := os.ReadFile(fl.file)
				if err != nil {
					return errors.Wrapf(err, "read %s", fl.file)
				}
				up = &importer.Upload{Name: fl.file, Data: data}
			}

			report, runErr := a.Runner.Run(cmd.Context(), up, importer.Options{
				Entity:         fl.entity,
				UpdateIfExists: fl.lookup != "",
				UpdateLookup:   fl.lookup,
				Associations:   assocs,
			})
			if err := printReport(out, report, fl.format); err != nil {
				return err
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&fl.entity, "entity", "", "сущность: Book или core.Book")
	f.StringVar(&fl.file, "file", "", "путь к CSV или XLSX")
	f.StringVar(&fl.lookup, "update-lookup", "", "обновлять существующие записи, найденные по этому полю")
	f.StringArrayVar(&fl.assocs, "assoc", nil, "ключ ассоциации field=key, можно повторять")
	f.StringVar(&fl.format, "format", "text", "формат отчёта: text | json")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func newDescribeCmd(out io.Writer, envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <entity>",
		Short: "Показать колонки, которые понимает загрузка",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd, *envFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			desc, err := a.Runner.Describe(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "entity:     %s\n", desc.Entity.FQN())
			fmt.Fprintf(out, "label:      %s\n", desc.LabelField)
			fmt.Fprintf(out, "scalar:     %s\n", strings.Join(desc.Scalar, ", "))
			fmt.Fprintf(out, "belongs_to: %s\n", strings.Join(desc.BelongsTo, ", "))
			fmt.Fprintf(out, "collection: %s\n", strings.Join(desc.Collection, ", "))
			fmt.Fprintf(out, "file:       %s\n", strings.Join(desc.File, ", "))
			return nil
		},
	}
}

func bootstrap(cmd *cobra.Command, envFiles []string) (*app.App, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, log)
}

func printReport(out io.Writer, report *importer.Report, format string) error {
	if report == nil {
		return nil
	}
	if strings.EqualFold(format, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, m := range report.Success {
		fmt.Fprintln(out, m)
	}
	for _, m := range report.Error {
		fmt.Fprintln(out, m)
	}
	for _, m := range report.Skipped {
		fmt.Fprintln(out, m)
	}
	return nil
}
