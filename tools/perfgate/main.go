// Command perfgate runs the realtime benchmarks and fails when ns/op or
// allocs/op regress past the checked-in baseline.
//
// ns/op figures only hold for the machine that recorded them. Run with
// -write-baseline on the CI runner (or locally before comparing) to record a
// baseline for that machine; allocation counts are portable.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type benchmarkBaseline struct {
	NSOp     float64 `json:"ns_op"`
	AllocsOp float64 `json:"allocs_op"`
}

type baselineFile struct {
	Benchmarks map[string]benchmarkBaseline `json:"benchmarks"`
}

type benchmarkResult struct {
	NSOp     float64
	AllocsOp float64
}

func parseBenchOutput(output string) map[string]benchmarkResult {
	results := map[string]benchmarkResult{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		fields := strings.Fields(line)
		// Typical format:
		// BenchmarkName-20  N  ns/op  B/op  allocs/op
		if len(fields) < 5 {
			continue
		}
		name := fields[0]
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}

		// Reset parse outputs for each benchmark line.
		nsOp := 0.0
		allocsOp := 0.0
		hasNSOp := false
		hasAllocsOp := false
		for i := 0; i < len(fields)-1; i++ {
			switch fields[i+1] {
			case "ns/op":
				if parsed, err := strconv.ParseFloat(fields[i], 64); err == nil {
					nsOp = parsed
					hasNSOp = true
				}
			case "allocs/op":
				if parsed, err := strconv.ParseFloat(fields[i], 64); err == nil {
					allocsOp = parsed
					hasAllocsOp = true
				}
			}
		}
		if hasNSOp && hasAllocsOp && nsOp > 0 {
			results[name] = benchmarkResult{NSOp: nsOp, AllocsOp: allocsOp}
		}
	}
	return results
}

// compare checks results against the baseline and returns sorted failures.
func compare(baseline baselineFile, results map[string]benchmarkResult, maxRegression float64) []string {
	failures := []string{}
	for name, expected := range baseline.Benchmarks {
		actual, ok := results[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing benchmark result: %s", name))
			continue
		}

		maxNS := expected.NSOp * (1.0 + (maxRegression / 100.0))
		if actual.NSOp > maxNS {
			failures = append(failures, fmt.Sprintf("%s ns/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.NSOp, actual.NSOp, maxNS))
		}

		maxAllocs := expected.AllocsOp * (1.0 + (maxRegression / 100.0))
		if expected.AllocsOp == 0 {
			maxAllocs = 0
		}
		if actual.AllocsOp > maxAllocs {
			failures = append(failures, fmt.Sprintf("%s allocs/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.AllocsOp, actual.AllocsOp, maxAllocs))
		}
	}
	sort.Strings(failures)
	return failures
}

// rebaseline turns measured results into a baseline with headroom percent
// added to ns/op. Allocation counts are kept exact because they do not vary
// between machines.
func rebaseline(baseline baselineFile, results map[string]benchmarkResult, headroom float64) (baselineFile, []string) {
	updated := baselineFile{Benchmarks: map[string]benchmarkBaseline{}}
	missing := []string{}
	for name := range baseline.Benchmarks {
		actual, ok := results[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		updated.Benchmarks[name] = benchmarkBaseline{
			NSOp:     math.Ceil(actual.NSOp * (1.0 + headroom/100.0)),
			AllocsOp: actual.AllocsOp,
		}
	}
	sort.Strings(missing)
	return updated, missing
}

func benchPattern(baseline baselineFile) string {
	names := make([]string, 0, len(baseline.Benchmarks))
	for name := range baseline.Benchmarks {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return "^(" + strings.Join(names, "|") + ")$"
}

func main() {
	baselinePath := flag.String("baseline", "tools/perfgate/baseline.json", "path to benchmark baseline JSON")
	packagePath := flag.String("package", "./realtime", "package path for benchmarks")
	benchtime := flag.String("benchtime", "1s", "go test benchmark duration")
	maxRegression := flag.Float64("max-regression", 10.0, "max allowed regression percentage")
	writeBaseline := flag.Bool("write-baseline", false, "record this machine's results into the baseline file instead of gating")
	headroom := flag.Float64("headroom", 50.0, "ns/op headroom percentage added when writing the baseline")
	flag.Parse()

	data, err := os.ReadFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perf baseline read failed: %v\n", err)
		os.Exit(1)
	}

	baseline := baselineFile{}
	if err = json.Unmarshal(data, &baseline); err != nil {
		fmt.Fprintf(os.Stderr, "perf baseline parse failed: %v\n", err)
		os.Exit(1)
	}
	if len(baseline.Benchmarks) == 0 {
		fmt.Fprintln(os.Stderr, "perf baseline is empty")
		os.Exit(1)
	}

	command := exec.Command("go", "test", *packagePath, "-run", "^$", "-bench", benchPattern(baseline), "-benchmem", "-count=1", "-benchtime="+*benchtime) // #nosec G204 -- arguments are passed without shell expansion
	outputBytes, err := command.CombinedOutput()
	output := string(outputBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark command failed: %v\n%s", err, output)
		os.Exit(1)
	}

	results := parseBenchOutput(output)
	fmt.Print(output)

	if *writeBaseline {
		updated, missing := rebaseline(baseline, results, *headroom)
		if len(missing) > 0 {
			fmt.Fprintf(os.Stderr, "perf baseline not written, missing results: %s\n", strings.Join(missing, ", "))
			os.Exit(1)
		}
		data, err := json.MarshalIndent(updated, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "perf baseline encode failed: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*baselinePath, append(data, '\n'), 0o644); err != nil { // #nosec G306 -- baseline is a checked-in text file
			fmt.Fprintf(os.Stderr, "perf baseline write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("perf baseline written to %s\n", *baselinePath)
		return
	}

	failures := compare(baseline, results, *maxRegression)
	if len(failures) == 0 {
		fmt.Println("perf gate: PASS")
		return
	}

	fmt.Println("perf gate: FAIL")
	for _, failure := range failures {
		fmt.Printf("- %s\n", failure)
	}
	os.Exit(2)
}
