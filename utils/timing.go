package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics and logs are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for different operations
type TimingStats struct {
	TotalTime           time.Duration
	DataLoadingTime     time.Duration
	ModelInitTime       time.Duration
	ForwardPassTime     time.Duration
	BackwardPassTime    time.Duration
	UpdateTime          time.Duration
	HessianTime         time.Duration
	LossComputationTime time.Duration
	EvaluationTime      time.Duration
}

func share(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, steps int) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total training time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Steps completed: %d\n", steps)
	if steps > 0 {
		fmt.Fprintf(Output, "Average time per step: %v\n", stats.TotalTime/time.Duration(steps))
	}
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Data loading: %v (%.1f%%)\n", stats.DataLoadingTime, share(stats.DataLoadingTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, share(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Forward pass: %v (%.1f%%)\n", stats.ForwardPassTime, share(stats.ForwardPassTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Backward pass: %v (%.1f%%)\n", stats.BackwardPassTime, share(stats.BackwardPassTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Weight updates: %v (%.1f%%)\n", stats.UpdateTime, share(stats.UpdateTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Hessian estimates: %v (%.1f%%)\n", stats.HessianTime, share(stats.HessianTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Loss computation: %v (%.1f%%)\n", stats.LossComputationTime, share(stats.LossComputationTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Evaluation: %v (%.1f%%)\n", stats.EvaluationTime, share(stats.EvaluationTime, stats.TotalTime))
	if steps > 0 {
		fmt.Fprintln(Output, "\nPerformance metrics:")
		fmt.Fprintf(Output, "  Average forward pass time: %v\n", stats.ForwardPassTime/time.Duration(steps))
		fmt.Fprintf(Output, "  Average backward pass time: %v\n", stats.BackwardPassTime/time.Duration(steps))
		fmt.Fprintf(Output, "  Average update time: %v\n", stats.UpdateTime/time.Duration(steps))
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
