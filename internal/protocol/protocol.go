// Package protocol implements the text wire format spoken between tracking
// devices and the collector.
//
// A line-framed batch carries one entry per line, newest first:
//
//	<seq> <x>,<y>,<z>[;<speed>[;<heading>]]
//
// followed by optional padding. Any line starting with '.' ends the data part
// of a message. The alternate single-line framing is
//
//	BATCH:ID:<seq>|<x>,<y>,<z>[|<speed>[|<heading>]];ID:...;
//
// Acks are either "<seq> OK" (or "OK <seq>") lines or one aggregated
// "BATCH_OK:<seq>,<seq>" line.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	PaddingSentinel byte   = '.'
	BatchPrefix     string = "BATCH:"
	BatchAckPrefix  string = "BATCH_OK:"
	AckWord         string = "OK"
	entryPrefix     string = "ID:"
)

var (
	errMissingDelimiter = errors.New("missing delimiter")
	errBadSeq           = errors.New("bad sequence id")
	errBadPosition      = errors.New("bad position")
	errBadFloat         = errors.New("bad number")
	errBadAck           = errors.New("bad ack")
	errBadFrame         = errors.New("bad frame")
)

// Framing selects how a batch is laid out on the wire.
type Framing uint8

const (
	FramingLines Framing = iota
	FramingBatch
)

func (f Framing) String() string {
	switch f {
	case FramingLines:
		return "lines"
	case FramingBatch:
		return "batch"
	default:
		return "framing(" + strconv.Itoa(int(f)) + ")"
	}
}

func ParseFraming(s string) (Framing, error) {
	switch s {
	case "", "lines":
		return FramingLines, nil
	case "batch":
		return FramingBatch, nil
	default:
		return FramingLines, fmt.Errorf("unknown framing %q", s)
	}
}

// LineError describes one rejected line. Parsing always continues past it.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
