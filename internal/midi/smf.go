package midi

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// WriteOptions control serialization.
type WriteOptions struct {
	TicksPerQuarter uint16
	Channel         uint8
	TrackName       string
}

// DefaultWriteOptions returns 960 ticks per quarter on channel 0.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{TicksPerQuarter: DefaultTicksPerQuarter}
}

type event struct {
	tick uint32
	off  bool
	key  uint8
	vel  uint8
}

// Encode builds the single-track SMF for seq: the tempo at tick 0 followed
// by a note-on/note-off pair per note.
func Encode(seq *Sequence, opts WriteOptions) (*smf.SMF, error) {
	if opts.TicksPerQuarter == 0 {
		opts.TicksPerQuarter = DefaultTicksPerQuarter
	}
	if opts.Channel > 15 {
		return nil, fmt.Errorf("invalid MIDI channel %d", opts.Channel)
	}
	tempo := seq.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}

	toTicks := func(beats float64) uint32 {
		return uint32(math.Round(beats * float64(opts.TicksPerQuarter)))
	}

	events := make([]event, 0, 2*len(seq.Notes))
	for _, n := range seq.Notes {
		if n.Pitch < 0 || n.Pitch > 127 || n.Velocity < 0 || n.Velocity > 127 {
			return nil, fmt.Errorf("note %v out of range", n)
		}
		on, off := toTicks(n.Start), toTicks(n.End())
		if off <= on {
			off = on + 1
		}
		events = append(events,
			event{tick: on, key: uint8(n.Pitch), vel: uint8(n.Velocity)},
			event{tick: off, off: true, key: uint8(n.Pitch)},
		)
	}
	// releases go first so a repeated pitch is re-struck
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	if opts.TrackName != "" {
		tr.Add(0, smf.MetaTrackSequenceName(opts.TrackName))
	}
	tr.Add(0, smf.MetaTempo(tempo))

	var last uint32
	for _, e := range events {
		if e.off {
			tr.Add(e.tick-last, midi.NoteOff(opts.Channel, e.key))
		} else {
			tr.Add(e.tick-last, midi.NoteOn(opts.Channel, e.key, e.vel))
		}
		last = e.tick
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(opts.TicksPerQuarter)
	if err := s.Add(tr); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return s, nil
}

// Write serializes seq to w.
func Write(w io.Writer, seq *Sequence, opts WriteOptions) error {
	s, err := Encode(seq, opts)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// WriteFile serializes seq to path.
func WriteFile(path string, seq *Sequence, opts WriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create midi file: %w", err)
	}
	if err := Write(f, seq, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile parses a MIDI file back into a Sequence. Times are converted
// to beats; the first tempo event found wins.
func ReadFile(path string) (seq *Sequence, err error) {
	// the smf reader can panic on truncated input
	defer func() {
		if r := recover(); r != nil {
			seq, err = nil, fmt.Errorf("parse midi file: %v", r)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read midi file: %w", err)
	}
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse midi file: %w", err)
	}
	return Decode(s)
}

// Decode converts the note-on/note-off pairs of every track into notes.
func Decode(s *smf.SMF) (*Sequence, error) {
	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || mt == 0 {
		return nil, fmt.Errorf("unsupported time format %v", s.TimeFormat)
	}
	resolution := float64(mt)

	seq := &Sequence{}
	type pending struct {
		tick int64
		vel  uint8
	}

	for _, track := range s.Tracks {
		var abs int64
		open := map[uint8]pending{}
		for _, ev := range track {
			abs += int64(ev.Delta)

			var ch, key, vel uint8
			var bpm float64
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				if seq.Tempo == 0 {
					seq.Tempo = bpm
				}
			case ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0:
				open[key] = pending{tick: abs, vel: vel}
			case ev.Message.GetNoteOff(&ch, &key, &vel),
				ev.Message.GetNoteOn(&ch, &key, &vel) && vel == 0:
				p, held := open[key]
				if !held {
					continue
				}
				delete(open, key)
				seq.Notes = append(seq.Notes, Note{
					Pitch:    int(key),
					Start:    float64(p.tick) / resolution,
					Duration: float64(abs-p.tick) / resolution,
					Velocity: int(p.vel),
				})
			}
		}
	}

	sort.SliceStable(seq.Notes, func(i, j int) bool {
		return seq.Notes[i].Start < seq.Notes[j].Start
	})
	if seq.Tempo == 0 {
		seq.Tempo = DefaultTempo
	}
	return seq, nil
}
