// arcstress hammers a single shared block from many goroutines and checks that the payload is destroyed
// exactly once and that the allocator ends up with nothing live. It can run against each of the
// module's allocators.
//
// Usage:
//
//	arcstress [--goroutines N] [--iterations N] [--rounds N] [--allocator go|checked|mmap|arena] [--json]
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/arc/arc"
	"github.com/vkngwrapper/arc/memory"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	goroutines int
	iterations int
	rounds     int
	allocator  string
	json       bool
}

// sample is pointer-free so that it can live in mapped memory
type sample struct {
	Round  int64
	Values [6]float64
}

var drops atomic.Int64

func run(args []string, out io.Writer) error {
	var cfg config

	flagSet := pflag.NewFlagSet("arcstress", pflag.ContinueOnError)
	flagSet.IntVar(&cfg.goroutines, "goroutines", 8, "number of goroutines sharing each block")
	flagSet.IntVar(&cfg.iterations, "iterations", 10000, "clone and release cycles per goroutine")
	flagSet.IntVar(&cfg.rounds, "rounds", 1, "number of blocks to create, one after another")
	flagSet.StringVar(&cfg.allocator, "allocator", "go", "allocator to build blocks with: go, checked, mmap or arena")
	flagSet.BoolVar(&cfg.json, "json", false, "print results and allocator statistics as JSON")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if len(flagSet.Args()) > 0 {
		return errors.Newf("unexpected argument: %s", flagSet.Arg(0))
	}
	if cfg.goroutines < 1 || cfg.iterations < 0 || cfg.rounds < 1 {
		return errors.New("--goroutines and --rounds must be positive and --iterations must not be negative")
	}

	target, err := newTarget(cfg.allocator)
	if err != nil {
		return err
	}

	dropped, err := stress(target.allocator, cfg)
	if err != nil {
		return err
	}
	if dropped != int64(cfg.rounds) {
		return errors.Newf("payload was destroyed %d times over %d rounds", dropped, cfg.rounds)
	}

	if err := target.verify(); err != nil {
		return err
	}

	if cfg.json {
		writer := jwriter.NewWriter()
		obj := writer.Object()
		obj.Name("Allocator").String(cfg.allocator)
		obj.Name("Goroutines").Int(cfg.goroutines)
		obj.Name("Iterations").Int(cfg.iterations)
		obj.Name("Rounds").Int(cfg.rounds)
		obj.Name("Drops").Int(int(dropped))
		if target.stats != nil {
			obj.Name("Stats").Raw(json.RawMessage(target.stats()))
		}
		obj.End()

		_, err = fmt.Fprintln(out, string(writer.Bytes()))
	} else {
		_, err = fmt.Fprintf(out, "%s: %d rounds of %d goroutines x %d iterations, %d drops\n",
			cfg.allocator, cfg.rounds, cfg.goroutines, cfg.iterations, dropped)
	}
	if err != nil {
		return err
	}

	return target.close()
}

// Drop is called once per block, when the last handle is released
func (s *sample) Drop() {
	drops.Add(1)
}

func stress(allocator memory.Allocator, cfg config) (int64, error) {
	start := drops.Load()

	for round := 0; round < cfg.rounds; round++ {
		value := sample{Round: int64(round)}
		for i := range value.Values {
			value.Values[i] = float64(round * i)
		}

		root, err := arc.NewIn(allocator, value)
		if err != nil {
			return 0, err
		}

		var wg sync.WaitGroup
		var mismatches atomic.Int64
		for g := 0; g < cfg.goroutines; g++ {
			owned := root.Clone()
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				defer owned.Release()

				for i := 0; i < cfg.iterations; i++ {
					var c arc.Arc[sample]
					if (g+i)%2 == 0 {
						c = owned.Clone()
					} else {
						c = owned.Borrow().CloneArc()
					}
					if c.Get().Round != int64(round) {
						mismatches.Add(1)
					}

					offset := c.IntoOffset()
					offset.Release()
				}
			}(g)
		}

		root.Release()
		wg.Wait()

		if mismatches.Load() > 0 {
			return 0, errors.Newf("round %d read %d payloads from the wrong block", round, mismatches.Load())
		}
	}

	return drops.Load() - start, nil
}

type target struct {
	allocator memory.Allocator
	verify    func() error
	stats     func() string
	close     func() error
}

func newTarget(name string) (*target, error) {
	t := &target{
		verify: func() error { return nil },
		close:  func() error { return nil },
	}

	switch name {
	case "go":
		t.allocator = memory.Default()
	case "checked":
		checked, err := memory.NewCheckedAllocator(memory.Default(), memory.CheckedAllocatorOptions{
			Flags:  memory.CheckedAllocatorPoisonOnFree,
			Logger: slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		t.allocator = checked
		t.verify = func() error {
			if live := checked.LiveBlocks(); live > 0 {
				checked.DebugLogLeaks()
				return errors.Newf("%d blocks are still live", live)
			}
			return nil
		}
		t.stats = func() string { return checked.BuildStatsString(false) }
	case "mmap":
		mmap, err := memory.NewMmapAllocator(memory.MmapAllocatorOptions{Logger: slog.Default()})
		if err != nil {
			return nil, err
		}
		t.allocator = mmap
	case "arena":
		arena, err := memory.NewArenaAllocator(memory.ArenaAllocatorOptions{Logger: slog.Default()})
		if err != nil {
			return nil, err
		}
		t.allocator = arena
		t.verify = arena.CheckCorruption
		t.stats = func() string { return arena.BuildStatsString(true) }
		t.close = arena.Destroy
	default:
		return nil, errors.Newf("unknown allocator %q", name)
	}

	return t, nil
}
