package vm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lookbusy1344/riscv-emulator/memory"
)

// DefaultMaxSteps bounds runaway programs; a hart exceeding it is treated
// as a run failure.
const DefaultMaxSteps = 1_000_000

// HartResult reports how one hart's run ended.
type HartResult struct {
	Hart       int
	Conclusion Conclusion
	Steps      uint64
}

// Machine owns the bus and a set of harts, and runs each hart on its own
// OS thread until it raises an exception. Construction registers every
// hart's reservation cell with the bus before any thread starts.
type Machine struct {
	bus      *memory.Bus
	harts    []*Hart
	maxSteps uint64
}

// NewMachine assembles hartCount harts over the bus.
func NewMachine(bus *memory.Bus, hartCount int, isa ISA) *Machine {
	if hartCount < 1 {
		panic("machine: need at least one hart")
	}
	m := &Machine{bus: bus, maxSteps: DefaultMaxSteps}
	for i := 0; i < hartCount; i++ {
		h := NewHart(bus, isa)
		bus.RegisterReservationSet(h.Reservation())
		m.harts = append(m.harts, h)
	}
	return m
}

// SetMaxSteps overrides the per-hart step limit.
func (m *Machine) SetMaxSteps(n uint64) {
	m.maxSteps = n
}

// Bus returns the shared bus.
func (m *Machine) Bus() *memory.Bus {
	return m.bus
}

// Hart returns hart i for setup (program counter, stack pointer) before a
// run and inspection after.
func (m *Machine) Hart(i int) *Hart {
	return m.harts[i]
}

// HartCount returns the number of harts.
func (m *Machine) HartCount() int {
	return len(m.harts)
}

// Run executes every hart concurrently until each reaches an exception
// conclusion, then flushes their data caches so final memory state is
// observable through the bus. A hart that exhausts the step limit or a
// cancelled context aborts the run.
func (m *Machine) Run(ctx context.Context) ([]HartResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([]HartResult, len(m.harts))

	for i, h := range m.harts {
		i, h := i, h
		g.Go(func() error {
			var steps uint64
			for {
				if steps&1023 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				conclusion := h.Step()
				steps++

				if conclusion.Kind == ConclusionException {
					if err := h.mmu.FlushDataCache(); err != nil {
						return fmt.Errorf("hart %d writeback failed: %w", i, err)
					}
					results[i] = HartResult{Hart: i, Conclusion: conclusion, Steps: steps}
					return nil
				}

				if steps >= m.maxSteps {
					return fmt.Errorf("hart %d exceeded step limit (%d steps)", i, m.maxSteps)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
