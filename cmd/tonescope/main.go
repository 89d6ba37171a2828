/*
NAME
  tonescope

DESCRIPTION
  tonescope is an offline diagnostic for the acoustic MAC link: it reads
  a WAV capture recorded by audio.RecordingDevice (wired in by tonemac's
  -record flag) and plots the dominant frequency of each preamble-sized
  frame over time, so a captured session's tone sequence can be read
  back visually instead of from raw PCM.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// tonescope renders a frequency-over-time plot of a recorded MAC session.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/spectrum"
)

func main() {
	inPtr := flag.String("in", "", "path to a .wav capture from tonemac -record")
	outPtr := flag.String("out", "timeline.png", "path to write the frequency-timeline PNG")
	frameMsPtr := flag.Float64("frame", 50, "analysis frame length in milliseconds, matching the session's preamble duration")
	flag.Parse()

	if *inPtr == "" {
		fmt.Fprintln(os.Stderr, "tonescope: -in is required")
		os.Exit(2)
	}

	samples, sampleRate, err := readWAV(*inPtr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tonescope: %v\n", err)
		os.Exit(1)
	}

	frameLen := int(float64(sampleRate) * (*frameMsPtr) / 1000)
	if frameLen <= 0 {
		fmt.Fprintln(os.Stderr, "tonescope: frame length too small for the given sample rate")
		os.Exit(2)
	}

	pts := frequencyTimeline(samples, sampleRate, frameLen)

	if err := plotTimeline(pts, *outPtr); err != nil {
		fmt.Fprintf(os.Stderr, "tonescope: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tonescope: wrote %s (%d frames)\n", *outPtr, len(pts))
}

// readWAV decodes path into a mono int16 sample slice and its sample rate.
func readWAV(path string) ([]int16, uint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode %s: %w", path, err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, uint(buf.Format.SampleRate), nil
}

// frequencyTimeline slices samples into consecutive frameLen windows and
// returns the dominant frequency of each, using the same analyzer the
// mac state machine uses for preamble and control-tone detection.
func frequencyTimeline(samples []int16, sampleRate uint, frameLen int) plotter.XYs {
	analyzer := spectrum.New(sampleRate)
	frameDur := time.Duration(frameLen) * time.Second / time.Duration(sampleRate)

	var pts plotter.XYs
	for start := 0; start+frameLen <= len(samples); start += frameLen {
		freq := analyzer.Analyze(samples[start:start+frameLen], 0)
		if freq == spectrum.NoPeak {
			continue
		}
		t := time.Duration(start/frameLen) * frameDur
		pts = append(pts, plotter.XY{X: t.Seconds(), Y: freq})
	}
	return pts
}

func plotTimeline(pts plotter.XYs, out string) error {
	p := plot.New()
	p.Title.Text = "acoustic MAC session: dominant frequency over time"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "frequency (Hz)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("could not build line plotter: %w", err)
	}
	p.Add(line, plotter.NewGrid())

	// The y axis spans 0 Hz to 10% above the broadcast preamble tone,
	// which covers the preamble and per-node END tones; data tones and
	// the default END tone above that lie outside the plotted range.
	p.Y.Min = 0
	p.Y.Max = config.DefaultBroadcastPreambleFreq * 1.1

	if err := p.Save(10*vg.Inch, 4*vg.Inch, out); err != nil {
		return fmt.Errorf("could not save plot: %w", err)
	}
	return nil
}
