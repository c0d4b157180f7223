package main

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/kousu-tools/workload-form/internal/engine"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/present"
	"github.com/kousu-tools/workload-form/internal/registry"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [scenario.yaml]",
	Short: "Export a computed scenario to an XLSX workbook",
	Long:  "Runs the derivation rules over a YAML scenario and writes one workbook row per field: raw value, display text, and whether the user overrode it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, err := loadScenario(args[0])
		if err != nil {
			return err
		}

		reg := registry.NewDefault()
		eng, err := engine.NewDefault()
		if err != nil {
			return err
		}
		if err := applyScenario(reg, scenario); err != nil {
			return err
		}
		eng.Pass(reg, scenario.Classification)

		if err := writeWorkbook(exportOut, reg, eng); err != nil {
			return err
		}
		zap.L().Info("scenario exported", zap.String("path", exportOut))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "workload.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}

func writeWorkbook(path string, reg *registry.Registry, eng *engine.Engine) error {
	outputs := make(map[string]bool)
	for _, name := range eng.Outputs() {
		outputs[name] = true
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("workload")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"field", "value", "display", "user_modified"} {
		header.AddCell().SetString(h)
	}

	fields := reg.Snapshot()
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	for _, fd := range fields {
		if fd.Value == nil {
			continue
		}
		row := sheet.AddRow()
		row.AddCell().SetString(fd.Name)
		row.AddCell().SetFloat(fd.Num())
		display := ""
		if outputs[fd.Name] {
			display = present.DisplayFor(fd.Name, fd.Num()).Text
		}
		row.AddCell().SetString(display)
		row.AddCell().SetBool(fd.Source == model.SourceUserEntered)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
