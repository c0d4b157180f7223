package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/kousu-tools/workload-form/internal/gateway"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/registry"
	"github.com/kousu-tools/workload-form/internal/workbook"
)

func writeScenarioYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenarioYAML(t *testing.T) {
	path := writeScenarioYAML(t, `
classification: development
fields:
  billingAmount: 1000000
  outsourcingCost: 200000
  billingUnitCost: 80
overrides:
  estimatedWorkdays: 15
`)

	s, err := loadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "development", s.Classification)
	assert.Equal(t, 1000000.0, s.Fields["billingAmount"])
	assert.Equal(t, 15.0, s.Overrides["estimatedWorkdays"])
}

func TestLoadScenarioWorkbook(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("workload")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"field", "value", "flag"},
		{"classification", "development"},
		{"billingAmount", "1000000"},
		{"estimatedWorkdays", "15", "override"},
	} {
		r := sheet.AddRow()
		for _, c := range row {
			r.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "scenario.xlsx")
	require.NoError(t, f.Save(path))

	s, err := loadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "development", s.Classification)
	assert.Equal(t, 1000000.0, s.Fields["billingAmount"])
	assert.Equal(t, 15.0, s.Overrides["estimatedWorkdays"])
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := loadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCalcCommandHourInputs(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	// 20 logged hours make 2.5 person-days.
	path := writeScenarioYAML(t, `
fields:
  usedHours: 20
  newbieHours: 8
`)

	out := captureOutput(t, []string{"calc", path})
	assert.Contains(t, out, "3.5人日") // totalUsedWorkdays
}

// classRecordingGateway captures the classification each workdays
// lookup was issued with.
type classRecordingGateway struct {
	stubGateway
	classifications []string
}

func (g *classRecordingGateway) FetchWorkdays(_ context.Context, _, classification string) (*gateway.Workdays, error) {
	g.classifications = append(g.classifications, classification)
	wd := g.workdays
	return &wd, nil
}

func TestMergeRemoteUsesScenarioClassification(t *testing.T) {
	gw := &classRecordingGateway{
		stubGateway: stubGateway{
			cost:     150000,
			workdays: gateway.Workdays{Used: 4.26, Newbie: 1.5},
		},
	}
	reg := registry.NewDefault()

	err := mergeRemote(context.Background(), gw, reg, "7", "2026-08", "maintenance")
	require.NoError(t, err)

	require.Equal(t, []string{"maintenance"}, gw.classifications)
	assert.Equal(t, 150000.0, reg.Num(model.FieldOutsourcingCost))
	assert.Equal(t, 4.3, reg.Num(model.FieldUsedWorkdays))
	assert.Equal(t, 1.5, reg.Num(model.FieldNewbieWorkdays))
}

func TestKnownField(t *testing.T) {
	assert.True(t, knownField("billingAmount"))
	assert.True(t, knownField("wipAmount"))
	assert.False(t, knownField("bogus"))
}

func TestCalcCommandEndToEnd(t *testing.T) {
	// Run in a temp dir so no config.yaml is picked up.
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	path := writeScenarioYAML(t, `
classification: development
fields:
  billingAmount: 1000000
  outsourcingCost: 200000
  billingUnitCost: 80
`)

	out := captureOutput(t, []string{"calc", path})
	assert.Contains(t, out, "availableAmount")
	assert.Contains(t, out, "¥800,000")
	assert.Contains(t, out, "20.0人日")
}

func TestCalcCommandJSON(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	path := writeScenarioYAML(t, `
fields:
  billingAmount: 1000000
  outsourcingCost: 200000
`)

	t.Cleanup(func() { calcJSON = false })
	out := captureOutput(t, []string{"calc", path, "--json"})
	assert.Contains(t, out, `"availableAmount": 800000`)
}

func TestCalcCommandUnknownField(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	path := writeScenarioYAML(t, `
fields:
  bogus: 1
`)

	rootCmd.SetArgs([]string{"calc", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestExportCommandWritesWorkbook(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	scenario := writeScenarioYAML(t, `
classification: development
fields:
  billingAmount: 1000000
  outsourcingCost: 200000
  billingUnitCost: 80
`)
	out := filepath.Join(dir, "out.xlsx")

	captureOutput(t, []string{"export", scenario, "--out", out})

	rows, err := workbook.ReadRows(out, workbook.Options{SkipRows: 1})
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	byName := make(map[string][]string)
	for _, row := range rows {
		byName[row[0]] = row
	}
	require.Contains(t, byName, "availableAmount")
	assert.Equal(t, "¥800,000", byName["availableAmount"][2])
}

func captureOutput(t *testing.T, args []string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	return buf.String()
}
