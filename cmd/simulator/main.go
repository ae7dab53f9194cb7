// Command simulator replays a forecast dataset through the ensemble engine
// and prints a strategy comparison report. It runs entirely in memory
// against the same services the server wires, so a strategy change can be
// judged on held-out days before it reaches production config.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/dataset"
	"github.com/prismcast/prismcast-go/internal/simulator"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	synthetic := fs.Bool("synthetic", false, "replay the built-in synthetic dataset instead of a directory")
	strategies := fs.String("strategies", "", "comma-separated strategies to compare (default weighted_average,mean)")
	scoreDays := fs.Int("score-days", 0, "training window length in days (default engine setting)")
	workers := fs.Int("workers", 0, "gate-closure worker pool size (default 4)")
	verbose := fs.Bool("v", false, "log replay progress")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var ds *dataset.Dataset
	switch {
	case *synthetic:
		ds = simulator.Synthetic()
	case fs.NArg() == 1:
		loaded, err := dataset.Load(fs.Arg(0))
		if err != nil {
			return err
		}
		ds = loaded
	default:
		return fmt.Errorf("usage: simulator [flags] <dataset-dir> (or -synthetic)")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.InfoLevel)
	}

	sim := simulator.New(simulator.Options{
		Strategies: splitStrategies(*strategies),
		ScoreDays:  *scoreDays,
		Workers:    *workers,
		Logger:     logger,
	})
	result, err := sim.Run(context.Background(), ds)
	if err != nil {
		return err
	}
	return result.Render(out)
}

func splitStrategies(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
