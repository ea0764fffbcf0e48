package progress

import (
	"fmt"
	"io"
	"time"
)

// Stage represents a processing stage
type Stage struct {
	Number      int
	Total       int
	Name        string
	Description string
}

// Predefined stages of a conversion run
var (
	StageValidate  = Stage{1, 6, "validate", "Validating input file..."}
	StageTranscode = Stage{2, 6, "transcode", "Extracting audio..."}
	StageExtract   = Stage{3, 6, "extract", "Performing pitch detection... (this may take a moment)"}
	StageSegment   = Stage{4, 6, "segment", "Segmenting notes..."}
	StageWrite     = Stage{5, 6, "write", "Creating MIDI file..."}
	StageRender    = Stage{6, 6, "render", "Converting MIDI to audio..."}
)

// Reporter handles CLI progress output
type Reporter struct {
	out       io.Writer
	startTime time.Time
	verbose   bool
}

// NewReporter creates a new progress reporter. A nil out discards output.
func NewReporter(out io.Writer, verbose bool) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{
		out:       out,
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// StartStage announces the beginning of a processing stage
func (r *Reporter) StartStage(stage Stage) {
	fmt.Fprintf(r.out, "[%d/%d] %s\n", stage.Number, stage.Total, stage.Description)
}

// Update shows a sub-progress message within a stage
func (r *Reporter) Update(format string, args ...any) {
	if r.verbose {
		fmt.Fprintf(r.out, "       %s\n", fmt.Sprintf(format, args...))
	}
}

// StageComplete shows completion message for a stage
func (r *Reporter) StageComplete(format string, args ...any) {
	fmt.Fprintf(r.out, "       %s\n", fmt.Sprintf(format, args...))
}

// Skip marks a stage that does not apply to this run
func (r *Reporter) Skip(stage Stage, reason string) {
	if r.verbose {
		fmt.Fprintf(r.out, "[%d/%d] Skipped %s (%s)\n", stage.Number, stage.Total, stage.Name, reason)
	}
}

// Done announces successful completion
func (r *Reporter) Done(outputPath string) {
	elapsed := time.Since(r.startTime)
	fmt.Fprintln(r.out, "Done! Conversion complete.")
	if outputPath != "" {
		fmt.Fprintf(r.out, "Output saved to: %s\n", outputPath)
	}
	fmt.Fprintf(r.out, "Completed in %.1f seconds\n", elapsed.Seconds())
}

// Error announces an error
func (r *Reporter) Error(err error) {
	fmt.Fprintf(r.out, "Error: %s\n", err)
}

// Warning announces a non-fatal warning
func (r *Reporter) Warning(format string, args ...any) {
	fmt.Fprintf(r.out, "Warning: %s\n", fmt.Sprintf(format, args...))
}
