package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/locator"
	"github.com/srg/glmlink/internal/stream"
	"github.com/srg/glmlink/pkg/config"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveFormat maps "auto" to text on a terminal and JSON lines otherwise.
func resolveFormat(format string, w io.Writer) string {
	if format == config.OutputAuto || format == "" {
		if isTerminal(w) {
			return config.OutputText
		}
		return config.OutputJSON
	}
	return format
}

// eventPrinter renders stream events. JSON mode writes every event as one line;
// text mode prints measurements and only status changes, so heartbeats stay quiet.
type eventPrinter struct {
	w    io.Writer
	json bool
	enc  *json.Encoder

	measure *color.Color
	up      *color.Color
	down    *color.Color

	last    stream.Status
	printed bool
}

func newEventPrinter(w io.Writer, format string, colored bool) *eventPrinter {
	p := &eventPrinter{
		w:       w,
		json:    format == config.OutputJSON,
		enc:     json.NewEncoder(w),
		measure: color.New(color.FgCyan, color.Bold),
		up:      color.New(color.FgGreen),
		down:    color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.measure, p.up, p.down} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *eventPrinter) Print(e stream.Event) error {
	if p.json {
		return p.enc.Encode(e)
	}

	switch e.Type {
	case stream.EventMeasure:
		_, err := p.measure.Fprintf(p.w, "%.4f m\n", e.Measurement.ValueMeters)
		return err
	default:
		st := e.Status
		changed := !p.printed || st.Connected != p.last.Connected || st.DeviceAddress != p.last.DeviceAddress
		p.last, p.printed = st, true
		if !changed {
			return nil
		}
		if st.Connected {
			_, err := p.up.Fprintf(p.w, "connected to %s\n", device.Descriptor{Name: st.DeviceName, Address: st.DeviceAddress})
			return err
		}
		_, err := p.down.Fprintln(p.w, "disconnected, waiting for rangefinder...")
		return err
	}
}

// printLocateResult writes the located device or, on a miss, the seen list.
func printLocateResult(w io.Writer, format string, found device.Descriptor, notFound *locator.NotFoundError) error {
	if format == config.OutputJSON {
		enc := json.NewEncoder(w)
		if notFound != nil {
			seen := make([]map[string]string, 0, len(notFound.Seen))
			for _, s := range notFound.Seen {
				seen = append(seen, map[string]string{"name": s.Name, "address": s.Address})
			}
			return enc.Encode(map[string]any{"found": false, "seen": seen})
		}
		return enc.Encode(map[string]any{"found": true, "name": found.Name, "address": found.Address})
	}

	if notFound == nil {
		_, err := fmt.Fprintf(w, "Found %s\n", found)
		return err
	}
	if len(notFound.Seen) == 0 {
		_, err := fmt.Fprintln(w, "Rangefinder not found; no devices seen")
		return err
	}
	fmt.Fprintf(w, "Rangefinder not found; %d device(s) seen:\n", len(notFound.Seen))
	for _, s := range notFound.Seen {
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "  %-24s %s\n", name, s.Address)
	}
	return nil
}
