package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// EncodeAck acknowledges ids. Line framing answers with one "<seq> OK" line
// per id, batch framing with a single BATCH_OK line.
func EncodeAck(f Framing, ids []uint32) []byte {
	if f == FramingBatch {
		buf := make([]byte, 0, len(BatchAckPrefix)+len(ids)*6+1)
		buf = append(buf, BatchAckPrefix...)
		for i, id := range ids {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendUint(buf, uint64(id), 10)
		}
		return append(buf, '\n')
	}
	buf := make([]byte, 0, len(ids)*8)
	for _, id := range ids {
		buf = strconv.AppendUint(buf, uint64(id), 10)
		buf = append(buf, ' ')
		buf = append(buf, AckWord...)
		buf = append(buf, '\n')
	}
	return buf
}

// ParseAck collects every acknowledged id. A malformed line, or a malformed
// item inside a BATCH_OK list, is reported and skipped.
func ParseAck(payload []byte) ([]uint32, []*LineError) {
	var ids []uint32
	var errs []*LineError
	for n, raw := range bytes.Split(payload, []byte{'\n'}) {
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, BatchAckPrefix) {
			list := line[len(BatchAckPrefix):]
			if list == "" {
				continue
			}
			for _, item := range strings.Split(list, ",") {
				id, err := parseSeq(strings.TrimSpace(item))
				if err != nil {
					errs = append(errs, &LineError{Line: n + 1, Text: item, Err: err})
					continue
				}
				ids = append(ids, id)
			}
			continue
		}
		id, err := parseAckLine(line)
		if err != nil {
			errs = append(errs, &LineError{Line: n + 1, Text: line, Err: err})
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}

func parseAckLine(line string) (uint32, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, errBadAck
	}
	switch {
	case fields[1] == AckWord:
		return parseSeq(fields[0])
	case fields[0] == AckWord:
		return parseSeq(fields[1])
	default:
		return 0, errBadAck
	}
}
