package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	CloseStream
)

// Policy decides what an event stream does when its client stops reading.
type Policy interface {
	OnBackPressure(client ClientID, dropped int) BackpressureAction
}

// SimplePolicy drops events until MaxDropped is reached, then closes the stream.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ ClientID, dropped int) BackpressureAction {
	if p.MaxDropped > 0 && dropped >= p.MaxDropped {
		return CloseStream
	}
	return DropEvent
}
