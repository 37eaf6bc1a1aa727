package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/server/storage"
	"github.com/cyclopcam/logs"
)

// Checkpoints are named Prefix + step, eg "model.ckpt-1000".
// When a checkpoint for the same step already exists (eg after a warm restart resets the step),
// a generation suffix is added, eg "model.ckpt-1000.1".
const Prefix = "model.ckpt-"

// PointerName is the file that records the most recently written checkpoint
const PointerName = "checkpoint"

// Save gives up after this many generations of the same step
const maxGenerations = 1000

var ErrExists = errors.New("Checkpoint already exists")

type Mode int

const (
	// Restore every variable, and the global step
	ModeFull Mode = iota
	// Restore every variable except the final layer
	ModePartial
)

func (m Mode) String() string {
	if m == ModePartial {
		return "partial"
	}
	return "full"
}

// RestoreResult describes what a restore did
type RestoreResult struct {
	Restored       bool     // False if there was no checkpoint to restore
	Name           string   // Checkpoint name
	CheckpointStep int64    // The step in the checkpoint's name
	GlobalStep     int64    // Model's global step after the restore
	Loaded         []string // Variables that were restored
	Skipped        []string // Variables that were left at their initial values
}

// Manager saves and restores model checkpoints in a blob store
type Manager struct {
	log   logs.Log
	store storage.Storage
	Debug bool // Log samples of every variable before and after a restore
}

func NewManager(log logs.Log, store storage.Storage) *Manager {
	return &Manager{
		log:   log,
		store: store,
	}
}

// Name returns the checkpoint name for a step
func Name(step int64) string {
	return Prefix + strconv.FormatInt(step, 10)
}

func generationName(step int64, gen int) string {
	if gen == 0 {
		return Name(step)
	}
	return Name(step) + "." + strconv.Itoa(gen)
}

// ParseName extracts the step from a checkpoint name
func ParseName(name string) (int64, bool) {
	step, _, ok := parseGeneration(name)
	return step, ok
}

func parseGeneration(name string) (step int64, gen int, ok bool) {
	if !strings.HasPrefix(name, Prefix) {
		return 0, 0, false
	}
	rest := name[len(Prefix):]
	if dot := strings.IndexByte(rest, '.'); dot != -1 {
		g, err := strconv.Atoi(rest[dot+1:])
		if err != nil || g < 1 {
			return 0, 0, false
		}
		gen = g
		rest = rest[:dot]
	}
	step, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || step < 0 {
		return 0, 0, false
	}
	return step, gen, true
}

// Latest returns the most recently saved checkpoint.
// If there is no pointer file, or it names a checkpoint that is gone,
// the checkpoint with the highest step is returned.
// ok is false if there are no checkpoints.
func (m *Manager) Latest() (step int64, name string, ok bool, err error) {
	if name, err = m.readPointer(); err != nil {
		return 0, "", false, err
	}
	if name != "" {
		exists, err := m.store.Exists(name)
		if err != nil {
			return 0, "", false, fmt.Errorf("Failed to check checkpoint %v: %w", name, err)
		}
		if exists {
			step, _ = ParseName(name)
			return step, name, true, nil
		}
		m.log.Warnf("Checkpoint %v named in %v does not exist", name, PointerName)
	}

	names, err := m.store.List(Prefix)
	if err != nil {
		return 0, "", false, fmt.Errorf("Failed to list checkpoints: %w", err)
	}
	bestGen := 0
	name = ""
	for _, n := range names {
		s, g, valid := parseGeneration(n)
		if !valid {
			continue
		}
		if !ok || s > step || (s == step && g > bestGen) {
			step, bestGen, name, ok = s, g, n, true
		}
	}
	return
}

// readPointer returns an empty name if there is no valid pointer file
func (m *Manager) readPointer() (string, error) {
	raw, err := storage.ReadFile(m.store, PointerName)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("Failed to read %v: %w", PointerName, err)
	}
	name := strings.TrimSpace(string(raw))
	if _, valid := ParseName(name); !valid {
		m.log.Warnf("Ignoring invalid %v file: '%v'", PointerName, name)
		return "", nil
	}
	return name, nil
}

// Save writes a new checkpoint for 'step', and records it as the latest.
// An existing checkpoint is never overwritten. If one already exists for 'step',
// the new checkpoint gets the next free generation suffix.
func (m *Manager) Save(mdl model.Model, step int64) (string, error) {
	name := ""
	for gen := 0; gen < maxGenerations; gen++ {
		candidate := generationName(step, gen)
		exists, err := m.store.Exists(candidate)
		if err != nil {
			return "", fmt.Errorf("Failed to check for existing checkpoint %v: %w", candidate, err)
		}
		if !exists {
			name = candidate
			break
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: %v generations of %v", ErrExists, maxGenerations, Name(step))
	}
	snap, err := Snapshot(mdl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return "", err
	}
	if err := storage.WriteFile(m.store, name, &buf); err != nil {
		return "", fmt.Errorf("Failed to write checkpoint %v: %w", name, err)
	}
	if err := storage.WriteFile(m.store, PointerName, strings.NewReader(name+"\n")); err != nil {
		return "", fmt.Errorf("Failed to update %v: %w", PointerName, err)
	}
	m.log.Infof("Saved checkpoint %v (global step %v)", name, snap.GlobalStep)
	return name, nil
}

// Load reads a checkpoint by name
func (m *Manager) Load(name string) (*Checkpoint, error) {
	raw, err := storage.ReadFile(m.store, name)
	if err != nil {
		return nil, fmt.Errorf("Failed to read checkpoint %v: %w", name, err)
	}
	return Decode(bytes.NewReader(raw))
}

// Restore loads the latest checkpoint into the model.
// A missing checkpoint is not an error; the result has Restored = false.
// The global step is restored from the checkpoint. In partial mode with a warmRestartLR
// that is not negative, the global step is reset to zero and the learning rate schedule
// restarts from warmRestartLR.
func (m *Manager) Restore(mdl model.Model, mode Mode, warmRestartLR float32) (*RestoreResult, error) {
	step, name, ok, err := m.Latest()
	if err != nil {
		return nil, err
	}
	if !ok {
		m.log.Infof("No checkpoint found")
		return &RestoreResult{GlobalStep: mdl.GlobalStep()}, nil
	}
	ckpt, err := m.Load(name)
	if err != nil {
		return nil, err
	}

	if m.Debug {
		m.logVariables("Before restore", mdl)
	}
	res, err := apply(mdl, ckpt, mode == ModePartial)
	if err != nil {
		return nil, fmt.Errorf("Failed to restore %v: %w", name, err)
	}
	res.Name = name
	res.CheckpointStep = step

	mdl.SetGlobalStep(ckpt.GlobalStep)
	if mode == ModePartial && warmRestartLR >= 0 {
		mdl.SetGlobalStep(0)
		s := mdl.Schedule()
		s.Base = warmRestartLR
		mdl.SetSchedule(s)
	}
	res.GlobalStep = mdl.GlobalStep()
	if m.Debug {
		m.logVariables("After restore", mdl)
	}
	m.log.Infof("Restored %v (%v mode): %v variables loaded, %v skipped, global step %v, learning rate %v",
		name, mode, len(res.Loaded), len(res.Skipped), res.GlobalStep, mdl.LearningRate())
	return res, nil
}

// LoadPretrained initializes every variable except the final layer from a checkpoint file
// on the local filesystem. The global step is not changed.
func LoadPretrained(log logs.Log, filename string, mdl model.Model) (*RestoreResult, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to open pretrained model: %w", err)
	}
	defer f.Close()
	ckpt, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("Failed to load pretrained model %v: %w", filename, err)
	}
	res, err := apply(mdl, ckpt, true)
	if err != nil {
		return nil, fmt.Errorf("Failed to load pretrained model %v: %w", filename, err)
	}
	res.Name = filename
	res.GlobalStep = mdl.GlobalStep()
	log.Infof("Loaded %v pretrained variables from %v", len(res.Loaded), filename)
	return res, nil
}

// apply copies the checkpoint's values into the model.
// Every variable is validated before any is modified.
func apply(mdl model.Model, ckpt *Checkpoint, skipFinalLayer bool) (*RestoreResult, error) {
	res := &RestoreResult{Restored: true}
	type pair struct {
		dst *model.Variable
		src *Variable
	}
	pairs := []pair{}
	final := mdl.FinalLayer()
	for _, v := range mdl.Variables().List() {
		if skipFinalLayer && v.Layer == final {
			res.Skipped = append(res.Skipped, v.Name)
			continue
		}
		src := ckpt.find(v.Name)
		if src == nil {
			return nil, fmt.Errorf("Checkpoint is missing variable %v", v.Name)
		}
		if !v.Value.SameShape(src.Tensor()) {
			return nil, fmt.Errorf("Variable %v has shape %v in the model, but %v in the checkpoint", v.Name, v.Value.Shape, src.Shape)
		}
		pairs = append(pairs, pair{v, src})
	}
	for _, p := range pairs {
		copy(p.dst.Value.Data, p.src.Data)
		res.Loaded = append(res.Loaded, p.dst.Name)
	}
	return res, nil
}

func (m *Manager) logVariables(title string, mdl model.Model) {
	m.log.Infof("%v: learning rate %v, global step %v", title, mdl.LearningRate(), mdl.GlobalStep())
	for _, v := range mdl.Variables().List() {
		n := min(4, v.Value.Len())
		m.log.Infof("  %v %v: %v", v.Name, v.Value.Shape, v.Value.Data[:n])
	}
}
