// Command gbreduce-bench times the reduction of a random matrix by an
// in-process group for a range of inner block sizes and renders the timings
// as an HTML chart.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/echelon"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/matgen"
	"github.com/ppopth/gbreduce/sparse"
)

var (
	rowsFlag      = flag.Int("rows", 4000, "number of random rows")
	columnsFlag   = flag.Int("columns", 3000, "number of columns")
	densityFlag   = flag.Float64("density", 0.01, "probability of a nonzero entry")
	dependentFlag = flag.Int("dependent", 400, "number of linearly dependent rows mixed in")
	modulusFlag   = flag.Uint64("modulus", 2147483647, "prime modulus")
	workersFlag   = flag.Int("workers", 4, "size of the in-process group")
	blockFlag     = flag.Int("block", 32, "rows per pivot block")
	innerFlag     = flag.String("inner", "1,2,4,8,16,32,0", "comma-separated inner block sizes to try")
	echelonFlag   = flag.Bool("echelon", false, "skip the backward pass")
	seedFlag      = flag.String("seed", "gbreduce", "seed of the random matrix")
	iterFlag      = flag.Int("iterations", 3, "runs per inner block size")
	outputFlag    = flag.String("output", "gbreduce_bench.html", "output file for the chart")
)

type result struct {
	inner int
	best  time.Duration
	rows  int
}

func main() {
	flag.Parse()

	inners, err := parseSizes(*innerFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	f, err := field.New(*modulusFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	settings := &matgen.Settings{
		Seed:      *seedFlag,
		Rows:      *rowsFlag,
		Columns:   *columnsFlag,
		Density:   *densityFlag,
		Dependent: *dependentFlag,
	}
	input, err := matgen.Generate(f, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Benchmarking reduction with:\n")
	fmt.Printf("  Field: %s\n", f)
	fmt.Printf("  Matrix: %d rows, %d columns, %d nonzeros\n", input.Len(), *columnsFlag, input.NonZeroCount())
	fmt.Printf("  Workers: %d\n", *workersFlag)
	fmt.Printf("  Block size: %d\n", *blockFlag)
	fmt.Printf("  Diagonal form: %v\n", !*echelonFlag)
	fmt.Println()

	var results []result
	for _, inner := range inners {
		o := echelon.Options{
			BlockSize:           *blockFlag,
			InnerBlockSize:      inner,
			UseBatchedTransfer:  true,
			RequestDiagonalForm: !*echelonFlag,
		}
		res := result{inner: inner}
		for i := 0; i < *iterFlag; i++ {
			d, rows, err := runOnce(f, input, o)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: inner block size %d: %v\n", inner, err)
				os.Exit(1)
			}
			if i == 0 || d < res.best {
				res.best = d
			}
			res.rows = rows
		}
		fmt.Printf("  inner=%-4d %12s  %d rows\n", inner, res.best, res.rows)
		results = append(results, res)
	}

	if err := render(*outputFlag, results); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nChart written to %s\n", *outputFlag)
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid inner block size %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no inner block sizes given")
	}
	return out, nil
}

// runOnce reduces a copy of input on a fresh local group. The returned row
// count is the total over all workers.
func runOnce(f field.Field, input *sparse.Matrix, o echelon.Options) (time.Duration, int, error) {
	group := comm.NewLocalGroup(*workersFlag)
	defer func() {
		for _, c := range group {
			c.Close()
		}
	}()
	p := echelon.Params{Modulus: f.Modulus(), Options: o}
	m := input.Clone()

	var wg sync.WaitGroup
	rows := make([]int, len(group))
	errs := make([]error, len(group))
	start := time.Now()
	for i, c := range group {
		wg.Add(1)
		go func(i int, c comm.Comm) {
			defer wg.Done()
			var mine *sparse.Matrix
			if i == 0 {
				mine = m
			}
			res, err := echelon.Run(context.Background(), c, p, mine)
			if err == nil {
				rows[i] = res.Len()
			}
			errs[i] = err
		}(i, c)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := 0
	for i := range group {
		if errs[i] != nil {
			return 0, 0, fmt.Errorf("rank %d: %w", i, errs[i])
		}
		total += rows[i]
	}
	return elapsed, total, nil
}

func render(path string, results []result) error {
	labels := make([]string, len(results))
	items := make([]opts.BarData, len(results))
	for i, r := range results {
		labels[i] = strconv.Itoa(r.inner)
		if r.inner == 0 {
			labels[i] = "all"
		}
		items[i] = opts.BarData{Value: r.best.Seconds()}
	}

	title := fmt.Sprintf("Reduction time, %d rows x %d columns, %d workers", *rowsFlag, *columnsFlag, *workersFlag)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "best of " + strconv.Itoa(*iterFlag) + " runs, seconds"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "gbreduce benchmark", Width: "1200px", Height: "600px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("seconds", items).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}))

	page := components.NewPage()
	page.AddCharts(bar)

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return page.Render(file)
}
