// ABOUTME: replay command: drives a recorded capture through a local device
// ABOUTME: Prints reconciled events as JSON lines and optionally records them to a new capture
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"fortio.org/safecast"
	"github.com/spf13/cobra"

	"github.com/harper/pencil-bridge/internal/application/logging"
	"github.com/harper/pencil-bridge/internal/domain/device"
	"github.com/harper/pencil-bridge/internal/domain/reconciler"
	"github.com/harper/pencil-bridge/internal/infrastructure/capture"
	"github.com/harper/pencil-bridge/internal/infrastructure/producer"
	"github.com/harper/pencil-bridge/internal/infrastructure/ring"
	"github.com/harper/pencil-bridge/internal/infrastructure/source"
)

type replayOptions struct {
	capacity       int
	interval       time.Duration
	connectTimeout time.Duration
	out            string
	quiet          bool
	logLevel       string
	noEstimation   bool
	noPredictions  bool
}

var replayOpts replayOptions

func init() {
	f := replayCmd.Flags()
	f.IntVar(&replayOpts.capacity, "capacity", 1000, "ring capacity in records")
	f.DurationVar(&replayOpts.interval, "interval", 0, "delay between frames (0 replays as fast as possible)")
	f.DurationVar(&replayOpts.connectTimeout, "connect-timeout", 5*time.Second, "connect timeout for http captures")
	f.StringVarP(&replayOpts.out, "out", "o", "", "write reconciled events to this capture file")
	f.BoolVarP(&replayOpts.quiet, "quiet", "q", false, "do not print events")
	f.StringVar(&replayOpts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	f.BoolVar(&replayOpts.noEstimation, "no-estimation-updates", false, "discard estimation updates")
	f.BoolVar(&replayOpts.noPredictions, "no-predictions", false, "discard predicted records")
}

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Replay a capture file or URL through the reconciler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd, args[0], replayOpts)
	},
}

// jsonObserver prints one JSON line per event and keeps the first write error.
type jsonObserver struct {
	enc *json.Encoder
	err error
}

func (o *jsonObserver) Observe(ev device.Event) {
	if o.err != nil {
		return
	}
	if err := o.enc.Encode(ev); err != nil {
		o.err = fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
}

func runReplay(cmd *cobra.Command, uri string, opts replayOptions) error {
	logger, err := logging.New(logging.Options{Level: opts.logLevel, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	if opts.capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", opts.capacity)
	}

	src, err := source.FromURI(uri, opts.connectTimeout)
	if err != nil {
		return err
	}
	rc, err := src.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer rc.Close()

	store := ring.New(opts.capacity)
	dev := device.New(device.Config{
		ID: "replay",
		Options: reconciler.Options{
			EnableEstimationUpdates: !opts.noEstimation,
			EnablePredictions:       !opts.noPredictions,
		},
	}, store, logger)

	var printer *jsonObserver
	if !opts.quiet {
		printer = &jsonObserver{enc: json.NewEncoder(cmd.OutOrStdout())}
		dev.AddObserver(printer)
	}

	var recorder *capture.Recorder
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer f.Close()
		recorder = capture.NewRecorder(capture.NewWriter(f))
		dev.AddSink(recorder)
	}

	pw, err := producer.NewWriter(store, logger)
	if err != nil {
		return err
	}
	dev.SetOverrunCounter(pw)

	var recordErr error
	pw.Attach(func(offset, count int) {
		if recorder != nil {
			off, err := safecast.Conv[uint32](offset)
			if err != nil {
				recordErr = err
				return
			}
			recorder.Mark(off)
		}
		dev.Notify(offset, count)
		if recorder != nil && recordErr == nil {
			recordErr = recorder.Flush()
		}
	})

	frames, err := capture.Replay(cmd.Context(), capture.NewReader(rc), pw, opts.interval)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if recordErr != nil {
		return fmt.Errorf("record: %w", recordErr)
	}
	if printer != nil && printer.err != nil {
		return printer.err
	}

	st := dev.Status()
	printReplaySummary(cmd.ErrOrStderr(), frames, st)
	return nil
}

func printReplaySummary(w io.Writer, frames int, st device.Status) {
	fmt.Fprintf(w, "%s %d frames, %d records read, %d emitted, %d patched, %d discarded, %d overruns\n",
		labelColor.Sprint("replay:"), frames, st.Totals.Read, st.Totals.Emitted, st.Totals.Patched,
		st.Totals.Discarded(), st.Overruns)
}
