package protocol

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/position"
)

// Batch is the parsed content of one inbound message.
type Batch struct {
	Entries []position.Sample
	Framing Framing
	Padding int
}

// Seqs returns the sequence ids of all entries in message order.
func (b *Batch) Seqs() []uint32 {
	ids := make([]uint32, len(b.Entries))
	for i := range b.Entries {
		ids[i] = b.Entries[i].ID
	}
	return ids
}

// Encode writes entries in the order given, then padding bytes.
func Encode(f Framing, entries []position.Sample, padding int) []byte {
	buf := make([]byte, 0, len(entries)*48+padding+len(BatchPrefix)+1)
	switch f {
	case FramingBatch:
		buf = append(buf, BatchPrefix...)
		for i := range entries {
			buf = appendFrameEntry(buf, &entries[i])
		}
		buf = append(buf, '\n')
	default:
		for i := range entries {
			buf = appendLineEntry(buf, &entries[i])
			buf = append(buf, '\n')
		}
	}
	for i := 0; i < padding; i++ {
		buf = append(buf, PaddingSentinel)
	}
	return buf
}

func appendFloat(buf []byte, v float64) []byte {
	return strconv.AppendFloat(buf, v, 'g', -1, 64)
}

func appendPos(buf []byte, p r3.Vec) []byte {
	buf = appendFloat(buf, p.X)
	buf = append(buf, ',')
	buf = appendFloat(buf, p.Y)
	buf = append(buf, ',')
	return appendFloat(buf, p.Z)
}

func appendLineEntry(buf []byte, s *position.Sample) []byte {
	buf = strconv.AppendUint(buf, uint64(s.ID), 10)
	buf = append(buf, ' ')
	buf = appendPos(buf, s.Pos)
	return appendKinematics(buf, s, ';')
}

func appendFrameEntry(buf []byte, s *position.Sample) []byte {
	buf = append(buf, entryPrefix...)
	buf = strconv.AppendUint(buf, uint64(s.ID), 10)
	buf = append(buf, '|')
	buf = appendPos(buf, s.Pos)
	buf = appendKinematics(buf, s, '|')
	return append(buf, ';')
}

// heading without speed is written with an empty speed field.
func appendKinematics(buf []byte, s *position.Sample, sep byte) []byte {
	if !s.HasSpeed && !s.HasHeading {
		return buf
	}
	buf = append(buf, sep)
	if s.HasSpeed {
		buf = appendFloat(buf, s.Speed)
	}
	if s.HasHeading {
		buf = append(buf, sep)
		buf = appendFloat(buf, s.Heading)
	}
	return buf
}

// Parse splits a raw payload into entries. Malformed lines are reported and
// skipped; a line starting with the padding sentinel ends parsing.
func Parse(payload []byte) (Batch, []*LineError) {
	var b Batch
	var errs []*LineError
	lineNo := 0
	rest := payload
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		lineNo++
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == PaddingSentinel {
			b.Padding = len(line) + len(rest)
			break
		}
		text := string(line)
		if strings.HasPrefix(text, BatchPrefix) {
			b.Framing = FramingBatch
			for _, item := range strings.Split(text[len(BatchPrefix):], ";") {
				if item == "" {
					continue
				}
				s, err := parseFrameEntry(item)
				if err != nil {
					errs = append(errs, &LineError{Line: lineNo, Text: item, Err: err})
					continue
				}
				b.Entries = append(b.Entries, s)
			}
			continue
		}
		s, err := ParseEntry(text)
		if err != nil {
			errs = append(errs, &LineError{Line: lineNo, Text: text, Err: err})
			continue
		}
		b.Entries = append(b.Entries, s)
	}
	return b, errs
}

// ParseEntry parses one "<seq> <x>,<y>,<z>[;speed[;heading]]" line.
func ParseEntry(line string) (position.Sample, error) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return position.Sample{}, errMissingDelimiter
	}
	seq, err := parseSeq(line[:sp])
	if err != nil {
		return position.Sample{}, err
	}
	return parseBody(seq, strings.TrimSpace(line[sp+1:]), ";")
}

func parseFrameEntry(item string) (position.Sample, error) {
	if !strings.HasPrefix(item, entryPrefix) {
		return position.Sample{}, errBadFrame
	}
	item = item[len(entryPrefix):]
	bar := strings.IndexByte(item, '|')
	if bar < 0 {
		return position.Sample{}, errMissingDelimiter
	}
	seq, err := parseSeq(item[:bar])
	if err != nil {
		return position.Sample{}, err
	}
	return parseBody(seq, item[bar+1:], "|")
}

func parseSeq(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errBadSeq
	}
	return uint32(v), nil
}

func parseBody(seq uint32, body string, sep string) (position.Sample, error) {
	fields := strings.Split(body, sep)
	if len(fields) > 3 {
		return position.Sample{}, errBadFrame
	}
	pos, err := parsePos(fields[0])
	if err != nil {
		return position.Sample{}, err
	}
	s := position.Sample{ID: seq, Pos: pos}
	if len(fields) > 1 && fields[1] != "" {
		if s.Speed, err = parseFloat(fields[1]); err != nil {
			return position.Sample{}, err
		}
		s.HasSpeed = true
	}
	if len(fields) > 2 && fields[2] != "" {
		if s.Heading, err = parseFloat(fields[2]); err != nil {
			return position.Sample{}, err
		}
		s.HasHeading = true
	}
	return s, nil
}

func parsePos(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, errBadPosition
	}
	var v [3]float64
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return r3.Vec{}, err
		}
		v[i] = f
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errBadFloat
	}
	return f, nil
}
