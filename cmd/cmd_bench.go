// cmd_bench.go - Benchmark der Append-Engine
// Hauptfunktionen: BenchHandler, runBench, printBench
//
// Szenario: eine Sequenz mit seq-len Tokens in zufaellig verteilten Pages
// (simuliert Fragmentierung) bekommt append neue Tokens angehaengt.
// Nach warmup Durchlaeufen werden runs Durchlaeufe gemessen.
package cmd

import (
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ollama/pagedkv/kvcache"
	"github.com/ollama/pagedkv/ml"
)

// benchOptions enthaelt alle Flags des bench Commands
type benchOptions struct {
	PageSize   int
	NumKVHeads int
	HeadDim    int
	MaxPages   int
	SeqLen     int
	Append     int
	DType      ml.DType
	Warmup     int
	Runs       int
	Threads    int
}

type benchResult struct {
	Options   benchOptions
	Pages     int
	Positions []int32
	Workers   int
	Durations []time.Duration
	// Bytes ist die Anzahl geschriebener Bytes pro Durchlauf (K und V)
	Bytes int64
}

// MeanStdDev gibt Mittelwert und Standardabweichung in Mikrosekunden zurueck
func (r *benchResult) MeanStdDev() (mean, std float64) {
	xs := make([]float64, len(r.Durations))
	for i, d := range r.Durations {
		xs[i] = float64(d.Nanoseconds()) / 1e3
	}
	return stat.MeanStdDev(xs, nil)
}

// randn fuellt n Werte aus der Standardnormalverteilung
func randn(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(distuv.UnitNormal.Rand())
	}
	return data
}

func runBench(opts benchOptions) (*benchResult, error) {
	cfg := kvcache.Config{
		PageSize:    opts.PageSize,
		MaxNumPages: opts.MaxPages,
		NumKVHeads:  opts.NumKVHeads,
		HeadDim:     opts.HeadDim,
		DType:       opts.DType,
	}

	if opts.SeqLen < 0 || opts.Append < 1 || opts.Runs < 1 || opts.Warmup < 0 {
		return nil, fmt.Errorf("invalid benchmark parameters (seq-len: %d append: %d runs: %d warmup: %d)", opts.SeqLen, opts.Append, opts.Runs, opts.Warmup)
	}

	pool, err := kvcache.NewPool(cfg)
	if err != nil {
		return nil, err
	}

	total := opts.SeqLen + opts.Append
	numPages := (total + opts.PageSize - 1) / opts.PageSize
	if numPages > opts.MaxPages {
		return nil, fmt.Errorf("%w (pages: %d pool: %d)", kvcache.ErrPoolExhausted, numPages, opts.MaxPages)
	}

	// zufaellige Pages aus dem gesamten Pool
	pages := make([]int32, numPages)
	for i, p := range rand.Perm(opts.MaxPages)[:numPages] {
		pages[i] = int32(p)
	}

	// Laengen aus der Page-Tabelle vor dem Wachstum
	used := (opts.SeqLen + opts.PageSize - 1) / opts.PageSize
	before := kvcache.Entry{Pages: pages[:used]}
	if used > 0 {
		before.LastPageLen = int32(opts.SeqLen - (used-1)*opts.PageSize)
	}

	seqLens, err := kvcache.NewBatchPageTable(before).SeqLens(opts.PageSize)
	if err != nil {
		return nil, err
	}

	batchIndices, positions, err := kvcache.BatchIndicesPositions([]int32{0, int32(opts.Append)}, seqLens, opts.Append)
	if err != nil {
		return nil, err
	}

	table := kvcache.NewBatchPageTable(kvcache.Entry{
		Pages:       pages,
		LastPageLen: int32(total - (numPages-1)*opts.PageSize),
	})

	n := opts.Append * cfg.TokenSize()

	var keys, values []float32
	var g errgroup.Group
	g.Go(func() error { keys = randn(n); return nil })
	g.Go(func() error { values = randn(n); return nil })
	g.Wait() //nolint:errcheck

	batch := kvcache.AppendBatch{
		Keys:         keys,
		Values:       values,
		BatchIndices: batchIndices,
		Positions:    positions,
	}

	engine := kvcache.NewEngine(pool, opts.Threads)

	for range opts.Warmup {
		if err := engine.Append(batch, table); err != nil {
			return nil, err
		}
	}

	res := &benchResult{
		Options:   opts,
		Pages:     numPages,
		Positions: positions,
		Workers:   engine.Workers(),
		Durations: make([]time.Duration, opts.Runs),
		Bytes:     int64(2 * n * opts.DType.Size()),
	}

	for i := range opts.Runs {
		start := time.Now()
		if err := engine.Append(batch, table); err != nil {
			return nil, err
		}
		res.Durations[i] = time.Since(start)
	}

	return res, nil
}

// cpuFeatures gibt die SIMD-Erweiterungen des Hosts zurueck
func cpuFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for name, ok := range map[string]bool{"sse4.1": cpu.X86.HasSSE41, "avx": cpu.X86.HasAVX, "avx2": cpu.X86.HasAVX2, "avx512f": cpu.X86.HasAVX512F, "fma": cpu.X86.HasFMA} {
			if ok {
				features = append(features, name)
			}
		}
	case "arm64":
		for name, ok := range map[string]bool{"asimd": cpu.ARM64.HasASIMD, "fphp": cpu.ARM64.HasFPHP, "asimdhp": cpu.ARM64.HasASIMDHP, "sve": cpu.ARM64.HasSVE} {
			if ok {
				features = append(features, name)
			}
		}
	}
	slices.Sort(features)
	return features
}

func printBench(w io.Writer, res *benchResult) {
	p := message.NewPrinter(language.English)
	opts := res.Options

	p.Fprintf(w, "pool:      %d pages x %d slots x %d heads x %d dims (%s)\n", opts.MaxPages, opts.PageSize, opts.NumKVHeads, opts.HeadDim, opts.DType)
	p.Fprintf(w, "sequence:  %d tokens + %d appended in %d pages\n", opts.SeqLen, opts.Append, res.Pages)
	p.Fprintf(w, "positions: %d..%d\n", res.Positions[0], res.Positions[len(res.Positions)-1])
	p.Fprintf(w, "workers:   %d (%s/%s %v)\n\n", res.Workers, runtime.GOOS, runtime.GOARCH, cpuFeatures())

	table := newTable(w, []string{"RUN", "LATENCY", "THROUGHPUT"})
	for i, d := range res.Durations {
		table.Append([]string{
			strconv.Itoa(i),
			d.String(),
			p.Sprintf("%.1f MB/s", float64(res.Bytes)/d.Seconds()/1e6),
		})
	}
	table.Render()

	mean, std := res.MeanStdDev()
	p.Fprintf(w, "\nmean %.2f us, stddev %.2f us, %d bytes per append\n", mean, std, res.Bytes)
}

// BenchHandler - Fuehrt den Append-Benchmark aus
func BenchHandler(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	dtypeName, _ := flags.GetString("dtype")
	dtype, err := ml.DTypeFromString(dtypeName)
	if err != nil {
		return err
	}

	var opts benchOptions
	opts.DType = dtype
	for name, dst := range map[string]*int{
		"page-size": &opts.PageSize,
		"heads":     &opts.NumKVHeads,
		"head-dim":  &opts.HeadDim,
		"max-pages": &opts.MaxPages,
		"seq-len":   &opts.SeqLen,
		"append":    &opts.Append,
		"warmup":    &opts.Warmup,
		"runs":      &opts.Runs,
		"threads":   &opts.Threads,
	} {
		if *dst, err = flags.GetInt(name); err != nil {
			return err
		}
	}

	res, err := runBench(opts)
	if err != nil {
		return err
	}

	printBench(cmd.OutOrStdout(), res)
	return nil
}

// newBenchCmd - Erstellt den bench Command
func newBenchCmd() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure appending tokens to a fragmented sequence",
		Args:  cobra.ExactArgs(0),
		RunE:  BenchHandler,
	}

	benchCmd.Flags().Int("page-size", 16, "Token slots per page")
	benchCmd.Flags().Int("heads", 4, "Number of key/value heads")
	benchCmd.Flags().Int("head-dim", 128, "Dimension of each head")
	benchCmd.Flags().Int("max-pages", 60000, "Number of pages in the pool")
	benchCmd.Flags().Int("seq-len", 4096, "Tokens already in the sequence")
	benchCmd.Flags().Int("append", 256, "Tokens appended per run")
	benchCmd.Flags().String("dtype", "f16", "Page storage type (f32, f16, bf16)")
	benchCmd.Flags().Int("warmup", 3, "Untimed warm-up runs")
	benchCmd.Flags().Int("runs", 3, "Timed runs")
	benchCmd.Flags().Int("threads", 0, "Append workers (0 = all CPUs)")

	return benchCmd
}
