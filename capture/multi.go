package capture

import (
	"context"
	"errors"

	"github.com/arloliu/go-astm/e1381"
)

// MultiSink appends to every sink in order. A failing sink does not stop
// the others; all failures are returned joined.
type MultiSink []e1381.CaptureSink

var _ e1381.CaptureSink = MultiSink(nil)

func (m MultiSink) Append(ctx context.Context, c e1381.Capture) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
