package sublist

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"time"

	"nuha.dev/trackpoint/internal/position"
)

const (
	FRAME_POINT byte = 0x00
	FRAME_EVENT byte = 0x01
)

var errShortFrame = errors.New("short point frame")

// EncodePoint lays a point out as
// type(1) | name_len(1) | name | seq(4) | x(8) | y(8) | z(8) | kind(1) | time_ms(8),
// little endian.
func EncodePoint(p *position.Point) []byte {
	name := p.Device
	if len(name) > 255 {
		name = name[:255]
	}
	buf := make([]byte, 2+len(name)+37)
	buf[0] = FRAME_POINT
	buf[1] = byte(len(name))
	i := 2 + copy(buf[2:], name)
	binary.LittleEndian.PutUint32(buf[i:], p.Seq)
	binary.LittleEndian.PutUint64(buf[i+4:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[i+12:], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(buf[i+20:], math.Float64bits(p.Z))
	buf[i+28] = byte(p.Kind)
	binary.LittleEndian.PutUint64(buf[i+29:], uint64(p.Time.UnixMilli()))
	return buf
}

func DecodePoint(b []byte) (position.Point, error) {
	if len(b) < 2 || b[0] != FRAME_POINT {
		return position.Point{}, errShortFrame
	}
	n := int(b[1])
	if len(b) < 2+n+37 {
		return position.Point{}, errShortFrame
	}
	i := 2 + n
	p := position.Point{Device: string(b[2:i])}
	p.Seq = binary.LittleEndian.Uint32(b[i:])
	p.X = math.Float64frombits(binary.LittleEndian.Uint64(b[i+4:]))
	p.Y = math.Float64frombits(binary.LittleEndian.Uint64(b[i+12:]))
	p.Z = math.Float64frombits(binary.LittleEndian.Uint64(b[i+20:]))
	p.Kind = position.Kind(b[i+28])
	p.Time = time.UnixMilli(int64(binary.LittleEndian.Uint64(b[i+29:]))).UTC()
	return p, nil
}

// encodeEvent is a json object behind the event type byte.
func encodeEvent(device, topic string, t time.Time) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, FRAME_EVENT)
	buf = append(buf, `{"device":"`...)
	buf = append(buf, device...)
	buf = append(buf, `","topic":"`...)
	buf = append(buf, topic...)
	buf = append(buf, `","time":`...)
	buf = strconv.AppendInt(buf, t.Unix(), 10)
	buf = append(buf, '}')
	return buf
}
