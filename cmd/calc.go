package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kousu-tools/workload-form/internal/engine"
	"github.com/kousu-tools/workload-form/internal/gateway"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/present"
	"github.com/kousu-tools/workload-form/internal/registry"
	"github.com/kousu-tools/workload-form/internal/workbook"
)

var (
	calcTicketID  string
	calcYearMonth string
	calcJSON      bool
)

// calcScenario is the YAML shape accepted by the calc command.
type calcScenario struct {
	Classification string             `yaml:"classification"`
	Fields         map[string]float64 `yaml:"fields"`
	Overrides      map[string]float64 `yaml:"overrides"`
}

var calcCmd = &cobra.Command{
	Use:   "calc [scenario.yaml]",
	Short: "Run one derivation pass over a scenario file",
	Long:  "Loads input fields and overrides from a YAML scenario, optionally merges remote outsourcing cost and workdays for a ticket, runs the derivation rules to a fixpoint, and prints the resulting fields.",
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

		if calcTicketID != "" {
			if err := cfg.Validate("calc"); err != nil {
				return err
			}
			gw := gatewayFromConfig(cfg.Remote)
			if err := mergeRemote(cmd.Context(), gw, reg, calcTicketID, calcYearMonth, scenario.Classification); err != nil {
				return err
			}
		}

		eng.Pass(reg, scenario.Classification)

		if calcJSON {
			return printFieldsJSON(cmd, reg, eng)
		}
		printFieldsTable(cmd, reg, eng)
		return nil
	},
}

func init() {
	calcCmd.Flags().StringVar(&calcTicketID, "ticket", "", "merge remote outsourcing cost and workdays for this ticket")
	calcCmd.Flags().StringVar(&calcYearMonth, "year-month", "", "billing month for the cost lookup (YYYY-MM, default current)")
	calcCmd.Flags().BoolVar(&calcJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(calcCmd)
}

// loadScenario reads a YAML scenario, or a workbook when the path ends
// in .xlsx (first sheet, header row skipped).
func loadScenario(path string) (*calcScenario, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		s, err := workbook.ReadScenario(path, workbook.Options{SkipRows: 1})
		if err != nil {
			return nil, err
		}
		return &calcScenario{
			Classification: s.Classification,
			Fields:         s.Fields,
			Overrides:      s.Overrides,
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "calc: read scenario")
	}
	var s calcScenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "calc: parse scenario")
	}
	return &s, nil
}

// hourFields maps hour-total scenario keys onto workday fields; logged
// hours convert at 8 hours per person-day.
var hourFields = map[string]string{
	"usedHours":   model.FieldUsedWorkdays,
	"newbieHours": model.FieldNewbieWorkdays,
}

func applyScenario(reg *registry.Registry, scenario *calcScenario) error {
	for name, v := range scenario.Fields {
		if target, ok := hourFields[name]; ok {
			reg.Set(target, model.Round1(model.HoursToWorkdays(v)))
			continue
		}
		if !knownField(name) {
			return eris.Errorf("calc: unknown field %q", name)
		}
		reg.Set(name, v)
	}
	for name, v := range scenario.Overrides {
		if !knownField(name) {
			return eris.Errorf("calc: unknown field %q", name)
		}
		reg.SetUser(name, v)
	}
	return nil
}

func knownField(name string) bool {
	for _, f := range model.AllFields {
		if f == name {
			return true
		}
	}
	return false
}

// mergeRemote overwrites outsourcing cost and workdays from the remote
// lookups before the pass runs, same rounding as the live session. The
// scenario's classification drives the workdays lookup; the client
// defaults an empty one to development.
func mergeRemote(ctx context.Context, gw gateway.Client, reg *registry.Registry, ticketID, yearMonth, classification string) error {
	ym := yearMonth
	if ym == "" {
		ym = time.Now().Format("2006-01")
	}
	cost, err := gw.FetchOutsourcingCost(ctx, ticketID, ym)
	if err != nil {
		return err
	}
	reg.Set(model.FieldOutsourcingCost, math.Round(cost.TotalCost))

	wd, err := gw.FetchWorkdays(ctx, ticketID, classification)
	if err != nil {
		return err
	}
	reg.Set(model.FieldUsedWorkdays, model.Round1(wd.Used))
	reg.Set(model.FieldNewbieWorkdays, model.Round1(wd.Newbie))

	zap.L().Info("merged remote values",
		zap.String("ticket_id", ticketID),
		zap.Float64("outsourcing_cost", cost.TotalCost),
		zap.Float64("used_workdays", wd.Used),
	)
	return nil
}

func printFieldsTable(cmd *cobra.Command, reg *registry.Registry, eng *engine.Engine) {
	outputs := make(map[string]bool)
	for _, name := range eng.Outputs() {
		outputs[name] = true
	}

	fields := reg.Snapshot()
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	for _, f := range fields {
		if f.Value == nil {
			continue
		}
		text := fmt.Sprintf("%g", f.Num())
		if outputs[f.Name] {
			text = present.DisplayFor(f.Name, f.Num()).Text
		}
		marker := ""
		if f.Source == model.SourceUserEntered {
			marker = " *"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s%s\n", f.Name, text, marker)
	}
}

func printFieldsJSON(cmd *cobra.Command, reg *registry.Registry, eng *engine.Engine) error {
	out := make(map[string]any)
	for _, f := range reg.Snapshot() {
		if f.Value == nil {
			continue
		}
		out[f.Name] = f.Num()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return eris.Wrap(err, "calc: marshal result")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
