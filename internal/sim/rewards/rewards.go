package rewards

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Reward names.
const (
	Frozen           = "frozen"
	ShootingLaser    = "shooting-laser"
	HitEnemy         = "hit-enemy"
	DroppedOneTarget = "dropped-one-target"
	DroppedTargets   = "dropped-targets"
	HitWall          = "hit-wall"
	CapturedTarget   = "captured-target"
	InBaseForNothing = "in-base-for-nothing"
	EnemyFrozen      = "enemy-frozen"
	TimePressure     = "time-pressure"
)

// Entry is one named weight. Inert entries are kept for reference but
// posting them has no effect.
type Entry struct {
	Name   string  `yaml:"name" json:"name"`
	Weight float64 `yaml:"weight" json:"weight"`
	Inert  bool    `yaml:"inert,omitempty" json:"inert,omitempty"`
}

func DefaultEntries() []Entry {
	return []Entry{
		{Name: Frozen, Weight: -1},
		{Name: ShootingLaser, Weight: 0, Inert: true},
		{Name: HitEnemy, Weight: 0.5, Inert: true},
		{Name: DroppedOneTarget, Weight: 1},
		{Name: DroppedTargets, Weight: 0, Inert: true},
		{Name: HitWall, Weight: -0.9},
		{Name: CapturedTarget, Weight: 0.5},
		{Name: InBaseForNothing, Weight: -0.5},
		{Name: EnemyFrozen, Weight: 0.1},
		{Name: TimePressure, Weight: -0.0001},
	}
}

// Table is the immutable name -> weight mapping.
type Table struct {
	byName map[string]Entry
	order  []string
}

func NewTable(entries []Entry) (*Table, error) {
	t := &Table{byName: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, errors.New("reward entry with empty name")
		}
		if _, dup := t.byName[e.Name]; dup {
			return nil, errors.Errorf("duplicate reward %q", e.Name)
		}
		t.byName[e.Name] = e
		t.order = append(t.order, e.Name)
	}
	return t, nil
}

func Defaults() *Table {
	t, err := NewTable(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return t
}

// Require fails when any of names is missing from the table.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.byName[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("missing rewards: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t *Table) Lookup(name string) (Entry, bool) {
	e, ok := t.byName[name]
	return e, ok
}

// Weight returns the configured weight and panics on unknown names.
func (t *Table) Weight(name string) float64 {
	e, ok := t.byName[name]
	if !ok {
		panic(fmt.Sprintf("rewards: unknown reward %q", name))
	}
	return e.Weight
}

func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, t.byName[n])
	}
	return out
}

// Sink receives reward deltas; it owns the running total.
type Sink interface {
	AddReward(delta float64)
}

// Accumulator is the simplest Sink: a running sum.
type Accumulator struct {
	sum float64
}

func (a *Accumulator) AddReward(delta float64) { a.sum += delta }
func (a *Accumulator) Sum() float64            { return a.sum }

// Take returns the sum and resets it.
func (a *Accumulator) Take() float64 {
	s := a.sum
	a.sum = 0
	return s
}

type Tally struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// Ledger posts named rewards from a Table into a Sink and keeps a per-name
// tally for reporting.
type Ledger struct {
	table *Table
	sink  Sink
	tally map[string]Tally
}

func NewLedger(table *Table, sink Sink) *Ledger {
	return &Ledger{table: table, sink: sink, tally: map[string]Tally{}}
}

func (l *Ledger) Table() *Table { return l.table }

func (l *Ledger) Post(name string) { l.PostScaled(name, 1) }

// PostScaled adds weight*scale to the sink. Unknown names panic.
func (l *Ledger) PostScaled(name string, scale float64) {
	e, ok := l.table.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("rewards: unknown reward %q", name))
	}
	if e.Inert {
		return
	}
	delta := e.Weight * scale
	l.sink.AddReward(delta)
	tl := l.tally[name]
	tl.Count++
	tl.Total += delta
	l.tally[name] = tl
}

func (l *Ledger) Tally() map[string]Tally {
	out := make(map[string]Tally, len(l.tally))
	for k, v := range l.tally {
		out[k] = v
	}
	return out
}

func (l *Ledger) ResetTally() {
	for k := range l.tally {
		delete(l.tally, k)
	}
}
