// Command trace-plot renders a recorded gaze trace as PNG charts and
// prints summary statistics for it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	trace := flag.String("trace", "", "trace directory to analyze")
	output := flag.String("o", "", "output directory for charts (default: the trace directory)")
	jsonOut := flag.String("json", "", "write the summary as JSON to this file")
	flag.Parse()

	if *trace == "" {
		log.Fatal("Trace directory is required (use -trace)")
	}
	if _, err := os.Stat(*trace); err != nil {
		log.Fatalf("Trace not accessible: %v", err)
	}
	outDir := *output
	if outDir == "" {
		outDir = *trace
	}

	rep, err := BuildReport(*trace)
	if err != nil {
		log.Fatalf("Failed to read trace: %v", err)
	}
	printReport(rep)

	n, err := RenderCharts(rep, outDir)
	if err != nil {
		log.Fatalf("Failed to render charts: %v", err)
	}
	log.Printf("✓ %d charts written to %s", n, outDir)

	if *jsonOut != "" {
		if err := exportJSON(rep, *jsonOut); err != nil {
			log.Fatalf("Failed to export JSON: %v", err)
		}
		log.Printf("Summary exported to: %s", *jsonOut)
	}
}

func printReport(rep *Report) {
	fmt.Println("\n=== Trace Report ===")
	fmt.Printf("Trace: %s\n", rep.Trace)
	fmt.Printf("Session: %s (%s source)\n", rep.SessionID, rep.SourceKind)
	fmt.Printf("Screen: %dx%d\n", rep.ScreenWidth, rep.ScreenHeight)
	fmt.Printf("Duration: %.2fs\n", rep.DurationSecs)
	fmt.Printf("Records: %d (%d ticks, %d blinks, %d status lines)\n",
		rep.TotalRecords, rep.Ticks, rep.Blinks, rep.StatusLines)
	if rep.Ticks > 0 {
		fmt.Printf("Hover: %d entries, %.1f%% of ticks\n",
			rep.HoverEntries, 100*float64(rep.HoverTicks)/float64(rep.Ticks))
	}
	if rep.MeanInnovation > 0 {
		fmt.Printf("Innovation: mean %.2fpx, max %.2fpx\n",
			rep.MeanInnovation, rep.MaxInnovation)
	}
}

func exportJSON(rep *Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}
