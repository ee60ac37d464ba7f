package gomssql

import "github.com/tracker1/gomssql/boundary"

// Option is a functional option for the Open and Connect entry points.
type Option func(*openOptions) error

type openOptions struct {
	b boundary.Boundary
}

// WithBoundary routes this call through an explicit boundary instead of the
// process-wide one installed with RegisterBoundary.
func WithBoundary(b boundary.Boundary) Option {
	return func(o *openOptions) error {
		if b == nil {
			return ErrNoBoundary
		}
		o.b = b
		return nil
	}
}

func applyOptions(opts []Option) (openOptions, error) {
	var o openOptions
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}
