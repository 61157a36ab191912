package forest

import (
	"time"

	"github.com/YuminosukeSato/goforest/core/model"
	"github.com/YuminosukeSato/goforest/pkg/errors"
	"github.com/YuminosukeSato/goforest/pkg/log"
)

type fileOptions struct {
	prefix string
}

// FileOption configures Load and Save.
type FileOption func(*fileOptions)

// WithFilePrefix sets the prefix of the model files. On Load, an empty
// prefix is detected from the single done marker of the directory.
func WithFilePrefix(prefix string) FileOption {
	return func(o *fileOptions) { o.prefix = prefix }
}

// Load reads the model saved in dir and wraps it.
func Load(dir string, opts ...FileOption) (Model, error) {
	o := &fileOptions{}
	for _, opt := range opts {
		opt(o)
	}
	start := time.Now()
	h, err := model.Load(dir, o.prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "loading model from %s", dir)
	}
	log.GetLoggerWithName("forest").Debug("Model loaded",
		log.ModelNameKey, h.Name(),
		log.OperationKey, log.OperationLoad,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return Wrap(h), nil
}

// Save writes the model to dir. The directory is created when missing.
func (m *GenericModel) Save(dir string, opts ...FileOption) error {
	h, err := m.bound("Save")
	if err != nil {
		return err
	}
	if dir == "" {
		return errors.NewValidationError("dir", "must not be empty", dir)
	}
	o := &fileOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if err := h.Save(dir, o.prefix); err != nil {
		return errors.Wrapf(err, "saving model to %s", dir)
	}
	m.log().Debug("Model saved",
		log.ModelNameKey, h.Name(),
		log.OperationKey, log.OperationSave,
	)
	return nil
}
