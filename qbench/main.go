package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caleberi/chatrelay/plotter"
	"github.com/caleberi/chatrelay/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot/vg"
)

var sweepCapacities = []int{2, 8, 32, 128, 512, 2048, 8192}

func newQueue(container string, capacity int) (*utils.BQueue[int], error) {
	switch container {
	case "slice":
		return utils.NewBlockingQueue[int](capacity), nil
	case "list":
		return utils.NewBlockingQueueWith[int](capacity, utils.NewDeque[int]()), nil
	}
	return nil, errors.Errorf("unknown container %q", container)
}

// run pre-fills q, then moves items through it with one reader and one
// writer goroutine. It returns how many items the reader received.
func run(q *utils.BQueue[int], items, fill int) (plotter.Sample, int, error) {
	m := 77
	q.Fill(func() int { m++; return m }, fill)
	filled := q.Size()

	last, err := q.LastValue()
	if err != nil && filled > 0 {
		return plotter.Sample{}, 0, err
	}

	writes := items - filled
	if writes < 0 {
		writes = 0
	}
	reads := filled + writes

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < reads; i++ {
			q.Receive()
		}
	}()
	go func() {
		defer wg.Done()
		x := 100
		for i := 0; i < writes; i++ {
			x++
			q.Send(x)
		}
	}()
	wg.Wait()

	return plotter.Sample{
		Capacity:  q.Capacity(),
		Items:     reads,
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000,
	}, last, nil
}

func sweep(containers []string, items int, filename string) error {
	graph := plotter.NewGraph(&plotter.GraphConfig{
		Title:  &plotter.GraphTitle{Text: "BQueue throughput"},
		XLabel: "capacity",
		YLabel: "items/ms",
	})

	for _, container := range containers {
		samples := make([]plotter.Sample, 0, len(sweepCapacities))
		for _, capacity := range sweepCapacities {
			q, err := newQueue(container, capacity)
			if err != nil {
				return err
			}
			sample, _, err := run(q, items, capacity)
			if err != nil {
				return err
			}
			log.Info().Msgf("%s capacity=%d %.2f items/ms", container, capacity, sample.ItemsPerMs())
			samples = append(samples, sample)
		}
		if err := graph.InsertLinePoints(plotter.GraphLabelPoint{
			Label:  container,
			Points: plotter.ThroughputPoints(samples),
		}); err != nil {
			return errors.Wrap(err, "cannot add line")
		}
	}
	return errors.Wrapf(graph.Save(6*vg.Inch, 4*vg.Inch, filename), "cannot save %s", filename)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	container := flag.String("container", "slice", "backing container: slice or list")
	capacity := flag.Int("capacity", 1<<16, "queue capacity")
	items := flag.Int("n", 1_000_000, "items the reader receives")
	fill := flag.Int("fill", -1, "items to pre-fill (defaults to capacity)")
	plotFile := flag.String("plot", "", "sweep capacities for both containers and save a PNG chart")
	flag.Parse()

	if *plotFile != "" {
		if err := sweep([]string{"slice", "list"}, *items, *plotFile); err != nil {
			log.Fatal().Err(err).Msg("sweep failed")
		}
		log.Info().Msgf("chart written to %s", *plotFile)
		return
	}

	q, err := newQueue(*container, *capacity)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot build queue")
	}
	if *fill < 0 {
		*fill = *capacity
	}

	sample, last, err := run(q, *items, *fill)
	if err != nil {
		log.Fatal().Err(err).Msg("benchmark failed")
	}
	fmt.Printf("Last queue value: %d\n", last)
	fmt.Printf("Time calculation (%s): %.0f milliseconds\n", *container, sample.ElapsedMs)
}
