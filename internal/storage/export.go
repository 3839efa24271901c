package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/loopsim/internal/sim"
)

// ExportEntry is a history row with undefined or non-finite values as null.
type ExportEntry struct {
	Time       float64  `json:"time"`
	Value      *float64 `json:"value"`
	Setpoint   float64  `json:"setpoint"`
	Output     *float64 `json:"output"`
	Error      *float64 `json:"error"`
	Integral   *float64 `json:"integral"`
	Derivative *float64 `json:"derivative"`
}

type ExportData struct {
	Name       string             `json:"name"`
	Controller string             `json:"controller"`
	Dt         float64            `json:"dt"`
	Steps      int                `json:"steps"`
	State      string             `json:"state"`
	Metrics    map[string]float64 `json:"metrics"`
	History    []ExportEntry      `json:"history"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func exportEntries(h sim.History) []ExportEntry {
	out := make([]ExportEntry, h.Len())
	for i := range out {
		e := h.At(i)
		out[i] = ExportEntry{
			Time:       e.Time,
			Value:      nullable(e.Value),
			Setpoint:   e.Setpoint,
			Output:     nullable(e.Output),
			Error:      nullable(e.Error),
			Integral:   nullable(e.Integral),
			Derivative: nullable(e.Derivative),
		}
	}
	return out
}

// ExportJSON writes run as indented JSON.
func ExportJSON(w io.Writer, run Run) error {
	steps := run.History.Len() - 1
	if steps < 0 {
		steps = 0
	}
	data := ExportData{
		Name:       run.Name,
		Controller: string(run.Config.Controller.Variant),
		Dt:         run.Config.Dt,
		Steps:      steps,
		State:      run.State.String(),
		Metrics:    MetricsMap(run.Metrics),
		History:    exportEntries(run.History),
	}
	return writeExport(w, data)
}

// ExportStored writes a stored run in the ExportJSON layout.
func ExportStored(w io.Writer, meta *RunMetadata, h sim.History) error {
	return writeExport(w, ExportData{
		Name:       meta.Name,
		Controller: meta.Controller,
		Dt:         meta.Dt,
		Steps:      meta.Steps,
		State:      meta.State,
		Metrics:    meta.Metrics,
		History:    exportEntries(h),
	})
}

func writeExport(w io.Writer, data ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
