// Command benchmark_report turns `go test -bench` output from the allocator
// packages into a markdown report.
//
// Usage:
//
//	go test -bench=. -benchmem ./mem/... | go run scripts/benchmark_report.go
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Package     string
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

func main() {
	flag.Parse()

	var scanner *bufio.Scanner
	var inputF *os.File
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		inputF = f
		scanner = bufio.NewScanner(f)
	} else {
		scanner = bufio.NewScanner(os.Stdin)
	}

	results := parseBenchmarks(scanner)

	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	report := generateMarkdownReport(results)

	if *outputFile != "" {
		err := os.WriteFile(*outputFile, []byte(report), 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			if inputF != nil {
				inputF.Close()
			}
			os.Exit(1)
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
		}
	} else {
		fmt.Fprint(os.Stdout, report)
	}

	if inputF != nil {
		inputF.Close()
	}
}

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult
	pkg := ""

	// Regex to parse benchmark output lines
	// BenchmarkAllocFree_448-8    1000000    1245 ns/op    0 B/op    0 allocs/op
	benchmarkRegex := regexp.MustCompile(
		`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+(?:B|MB)/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
	)
	pkgRegex := regexp.MustCompile(`^pkg:\s+(\S+)`)

	for scanner.Scan() {
		line := scanner.Text()

		// Try to parse as JSON (from -json flag)
		var testEvent map[string]any
		if err := json.Unmarshal([]byte(line), &testEvent); err == nil {
			if output, ok := testEvent["Output"].(string); ok {
				line = output
			}
		}
		line = strings.TrimSpace(line)

		if m := pkgRegex.FindStringSubmatch(line); m != nil {
			pkg = m[1]
			continue
		}

		matches := benchmarkRegex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}

		name := matches[1]
		// Strip the GOMAXPROCS suffix
		if i := strings.LastIndex(name, "-"); i > 0 {
			if _, err := strconv.Atoi(name[i+1:]); err == nil {
				name = name[:i]
			}
		}

		iterations, _ := strconv.Atoi(matches[2])
		nsPerOp, _ := strconv.ParseFloat(matches[3], 64)

		var bytesPerOp, allocsPerOp int64
		if matches[4] != "" {
			f, _ := strconv.ParseFloat(matches[4], 64)
			bytesPerOp = int64(f)
		}
		if matches[5] != "" {
			f, _ := strconv.ParseFloat(matches[5], 64)
			allocsPerOp = int64(f)
		}

		results = append(results, BenchmarkResult{
			Name:        name,
			Package:     pkg,
			Iterations:  iterations,
			NsPerOp:     nsPerOp,
			BytesPerOp:  bytesPerOp,
			AllocsPerOp: allocsPerOp,
		})
	}
	return results
}

func generateMarkdownReport(results []BenchmarkResult) string {
	var sb strings.Builder

	sb.WriteString("# Allocator Benchmarks\n\n")
	if len(results) == 0 {
		sb.WriteString("No benchmark results found.\n")
		return sb.String()
	}

	byPkg := map[string][]BenchmarkResult{}
	for _, r := range results {
		byPkg[r.Package] = append(byPkg[r.Package], r)
	}
	pkgs := make([]string, 0, len(byPkg))
	for p := range byPkg {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)

	for _, p := range pkgs {
		title := p
		if title == "" {
			title = "(unknown package)"
		}
		sb.WriteString(fmt.Sprintf("## %s\n\n", title))
		sb.WriteString("| Benchmark | Iterations | ns/op | B/op | allocs/op |\n")
		sb.WriteString("|-----------|-----------:|------:|-----:|----------:|\n")

		rs := byPkg[p]
		sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
		for _, r := range rs {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.1f | %d | %d |\n",
				strings.TrimPrefix(r.Name, "Benchmark"),
				r.Iterations, r.NsPerOp, r.BytesPerOp, r.AllocsPerOp))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
