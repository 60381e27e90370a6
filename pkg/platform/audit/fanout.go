package audit

import (
	"context"
	"errors"
)

// Fanout emits to every emitter in order and joins their errors. A failing
// emitter does not stop the ones after it.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
