// ABOUTME: inspect command: prints the frames of a capture file or URL
// ABOUTME: Colors record kinds and press state when writing to a terminal
package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/pencil-bridge/internal/domain/sample"
	"github.com/harper/pencil-bridge/internal/infrastructure/capture"
	"github.com/harper/pencil-bridge/internal/infrastructure/source"
)

var (
	labelColor   = color.New(color.FgCyan, color.Bold)
	pressedColor = color.New(color.FgGreen, color.Bold)
	liftedColor  = color.New(color.FgHiBlack)

	kindColors = map[sample.Kind]*color.Color{
		sample.KindConfirmed:        color.New(color.FgWhite),
		sample.KindEstimationUpdate: color.New(color.FgYellow),
		sample.KindPredicted:        color.New(color.FgMagenta),
		sample.KindBarrelTap:        color.New(color.FgBlue),
	}
)

var inspectSummaryOnly bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectSummaryOnly, "summary", false, "only print per-kind totals")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <capture>",
	Short: "Print the frames and records of a capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := source.FromURI(args[0], 5*time.Second)
		if err != nil {
			return err
		}
		rc, err := src.Open(cmd.Context())
		if err != nil {
			return err
		}
		defer rc.Close()

		return inspect(cmd.OutOrStdout(), capture.NewReader(rc), inspectSummaryOnly)
	},
}

func inspect(w io.Writer, rd *capture.Reader, summaryOnly bool) error {
	counts := make(map[sample.Kind]int)
	frames, records := 0, 0

	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if !summaryOnly {
			fmt.Fprintf(w, "%s %d offset=%d records=%d\n", labelColor.Sprint("frame"), frames, f.Offset, len(f.Records))
		}
		for i, s := range f.Samples() {
			counts[s.Kind()]++
			if !summaryOnly {
				printRecord(w, i, s)
			}
		}
		frames++
		records += len(f.Records)
	}

	fmt.Fprintf(w, "%s %d frames, %d records", labelColor.Sprint("total:"), frames, records)
	for _, k := range []sample.Kind{sample.KindConfirmed, sample.KindEstimationUpdate, sample.KindPredicted, sample.KindBarrelTap} {
		fmt.Fprintf(w, ", %s=%d", k, counts[k])
	}
	fmt.Fprintln(w)
	return nil
}

func printRecord(w io.Writer, i int, s sample.Sample) {
	press := liftedColor.Sprint("up  ")
	if s.IsPressed() {
		press = pressedColor.Sprint("down")
	}
	kind := s.Kind()
	fmt.Fprintf(w, "  %3d %s %-17s pos=(%.2f, %.2f) pressure=%.3f tilt=(%.2f, %.2f)",
		i, press, kindColors[kind].Sprint(kind), s.Position.X, s.Position.Y, s.Pressure, s.Tilt.X, s.Tilt.Y)
	if s.ExpectsUpdate() || s.IsEstimationUpdate() {
		fmt.Fprintf(w, " est=%d", s.EstimationUpdateIndex)
	}
	if props := s.ExpectingUpdates(); len(props) > 0 {
		fmt.Fprintf(w, " expects=%v", props)
	}
	fmt.Fprintln(w)
}
