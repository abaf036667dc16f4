package traffic

import "tilemove.ai/internal/movement/coord"

// Sink receives move commands. A rejected command is not retried.
type Sink interface {
	Move(id string, dir coord.Direction) error
}

// Dispatch sends every move to the sink and reports how many were accepted.
// reject, when non-nil, is called once per refused move.
func Dispatch(sink Sink, moves []Move, reject func(Move, error)) int {
	sent := 0
	for _, m := range moves {
		if err := sink.Move(m.ID, m.Dir); err != nil {
			if reject != nil {
				reject(m, err)
			}
			continue
		}
		sent++
	}
	return sent
}
