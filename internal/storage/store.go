package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/sim"
)

var ErrRunNotFound = errors.New("storage: run not found")

var historyHeader = []string{"time", "value", "setpoint", "output", "error", "integral", "derivative"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Run is a finished or interrupted simulation ready to be persisted.
type Run struct {
	Name    string
	Seed    int64
	Config  sim.Config
	State   sim.State
	History sim.History
	Metrics metrics.Performance
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Timestamp  time.Time          `json:"timestamp"`
	Seed       int64              `json:"seed"`
	Dt         float64            `json:"dt"`
	Steps      int                `json:"steps"`
	Controller string             `json:"controller"`
	Setpoint   float64            `json:"setpoint"`
	State      string             `json:"state"`
	Config     sim.Config         `json:"config"`
	Metrics    map[string]float64 `json:"metrics"`
}

// MetricsMap flattens p, leaving out undefined values.
func MetricsMap(p metrics.Performance) map[string]float64 {
	out := make(map[string]float64)
	if !p.Valid {
		return out
	}
	put := func(name string, v float64) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	put("overshoot", p.Overshoot)
	put("overshoot_pct", p.OvershootPct)
	put("rise_time", p.RiseTime)
	put("settling_time", p.SettlingTime)
	put("steady_state_error", p.SteadyStateError)
	put("control_effort", p.ControlEffort)
	put("iae", p.IAE)
	return out
}

func (s *Store) Save(run Run) (string, error) {
	name := run.Name
	if name == "" {
		name = "run"
	}
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", name, now.Unix())
	runDir := filepath.Join(s.baseDir, runID)
	for i := 1; ; i++ {
		if _, err := os.Stat(runDir); os.IsNotExist(err) {
			break
		}
		runID = fmt.Sprintf("%s_%d_%d", name, now.Unix(), i)
		runDir = filepath.Join(s.baseDir, runID)
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Name:       name,
		Timestamp:  now,
		Seed:       run.Seed,
		Dt:         run.Config.Dt,
		Steps:      run.History.Len() - 1,
		Controller: string(run.Config.Controller.Variant),
		Setpoint:   run.Config.Setpoint,
		State:      run.State.String(),
		Config:     run.Config,
		Metrics:    MetricsMap(run.Metrics),
	}
	if meta.Steps < 0 {
		meta.Steps = 0
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "history.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, run.History); err != nil {
		return "", err
	}
	return runID, nil
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadHistory(runID string) (sim.History, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "history.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return sim.History{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return sim.History{}, err
	}
	defer file.Close()
	return ReadCSV(file)
}

// WriteCSV writes h with a header row. Missing values are empty cells.
func WriteCSV(w io.Writer, h sim.History) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for i := 0; i < h.Len(); i++ {
		e := h.At(i)
		row := []string{
			formatFloat(e.Time),
			formatFloat(e.Value),
			formatFloat(e.Setpoint),
			formatFloat(e.Output),
			formatFloat(e.Error),
			formatFloat(e.Integral),
			formatFloat(e.Derivative),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadCSV(r io.Reader) (sim.History, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(historyHeader)

	records, err := cr.ReadAll()
	if err != nil {
		return sim.History{}, err
	}

	var h sim.History
	for i, record := range records {
		if i == 0 {
			continue
		}
		row := make([]float64, len(record))
		for j, cell := range record {
			if row[j], err = parseFloat(cell); err != nil {
				return sim.History{}, fmt.Errorf("row %d, %s: %w", i, historyHeader[j], err)
			}
		}
		h.Times = append(h.Times, row[0])
		h.Values = append(h.Values, row[1])
		h.Setpoints = append(h.Setpoints, row[2])
		h.Outputs = append(h.Outputs, row[3])
		h.Errors = append(h.Errors, row[4])
		h.Integrals = append(h.Integrals, row[5])
		h.Derivatives = append(h.Derivatives, row[6])
	}
	return h, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
