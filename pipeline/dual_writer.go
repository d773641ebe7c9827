package pipeline

import (
	"errors"

	"github.com/zimrates/rbzfx/models"
)

// DualWriter fans rows out to several writers and reports every
// failure, so one broken sink does not silently swallow the others'
// errors.
type DualWriter struct {
	writers []Writer
}

// NewDualWriter wraps the given writers.
func NewDualWriter(writers ...Writer) *DualWriter {
	return &DualWriter{writers: writers}
}

func (d *DualWriter) Write(rows []models.RateRow) error {
	var errs []error
	for _, w := range d.writers {
		if err := w.Write(rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
