// Package scenario runs the probe: an ordered list of scenarios, each of which arranges
// store state, acts on the store and asserts the documented outcome. The first failure
// stops the run.
package scenario

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	log "log/slog"

	"github.com/sharedcode/kvprobe"
)

// Env is what a scenario gets to work with.
type Env struct {
	Store kvprobe.Store
	// Rand drives batch shuffles.
	Rand *rand.Rand

	out io.Writer
}

// Printf writes a note to the transcript.
func (e *Env) Printf(format string, args ...any) {
	fmt.Fprintf(e.out, format+"\n", args...)
}

// Scenario is a named arrange/act/assert procedure.
type Scenario struct {
	Name string
	// Notes are printed under the header before the scenario runs.
	Notes []string
	// Flush empties the store before the scenario. Scenarios without it run on
	// whatever the previous scenario left behind and must say why that is fine.
	Flush bool
	Run   func(ctx context.Context, env *Env) error
}

// Timing is the elapsed time of one step of the run.
type Timing struct {
	Name    string
	Elapsed time.Duration
}

// Engine runs scenarios against one store, one after another.
type Engine struct {
	store kvprobe.Store
	out   io.Writer
	rng   *rand.Rand
	seed  uint64
}

// NewEngine returns an Engine writing its transcript to out. A zero seed picks a random one.
func NewEngine(store kvprobe.Store, out io.Writer, seed uint64) *Engine {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Engine{
		store: store,
		out:   out,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed:  seed,
	}
}

// Seed returns the seed of the shuffle generator, for reproducing a run.
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Run executes scenarios in order and returns the timings collected so far. It stops
// at the first error: an assertion failure keeps its code, anything else is reported
// as a setup failure naming the scenario.
func (e *Engine) Run(ctx context.Context, scenarios []Scenario) ([]Timing, error) {
	log.Info("running scenarios", "count", len(scenarios), "seed", e.seed)
	env := &Env{Store: e.store, Rand: e.rng, out: e.out}
	var timings []Timing
	for _, s := range scenarios {
		if s.Flush {
			t, err := e.measure("CLEAR STORE", func() error { return e.store.FlushAll(ctx) })
			timings = append(timings, t)
			if err != nil {
				return timings, kvprobe.Setup(fmt.Errorf("flush before %q: %w", s.Name, err))
			}
		}
		t, err := e.measure(s.Name, func() error {
			for _, n := range s.Notes {
				env.Printf("%s", n)
			}
			return s.Run(ctx, env)
		})
		timings = append(timings, t)
		if err != nil {
			log.Error("scenario failed", "scenario", s.Name, "error", err)
			if kvprobe.CodeOf(err) == kvprobe.Unknown {
				err = kvprobe.Error{Code: kvprobe.SetupFailure, Err: err, UserData: s.Name}
			}
			return timings, err
		}
	}
	return timings, nil
}

func (e *Engine) measure(name string, f func() error) (Timing, error) {
	fmt.Fprintf(e.out, "===== %s =====\n", name)
	start := time.Now()
	err := f()
	t := Timing{Name: name, Elapsed: time.Since(start)}
	if err == nil {
		fmt.Fprintf(e.out, "Took %.3f ms\n", float64(t.Elapsed)/float64(time.Millisecond))
	}
	return t, err
}
