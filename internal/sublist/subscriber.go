package sublist

// Subscriber receives encoded point frames. Push must not block.
type Subscriber interface {
	Push(device string, frame []byte) error
	Closed() bool
	Name() string
}
