package model

import (
	"strings"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Task はモデルが解く問題の種類を表す
type Task int

const (
	// Classification はカテゴリカルなラベルを予測する
	Classification Task = iota + 1
	// Regression は数値ラベルを予測する
	Regression
)

// String はモデルヘッダに保存される表記を返す
func (t Task) String() string {
	switch t {
	case Classification:
		return "CLASSIFICATION"
	case Regression:
		return "REGRESSION"
	default:
		return "UNDEFINED"
	}
}

// ParseTask は "CLASSIFICATION" / "REGRESSION" (大文字小文字を区別しない) を解釈する
func ParseTask(s string) (Task, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLASSIFICATION":
		return Classification, nil
	case "REGRESSION":
		return Regression, nil
	default:
		return 0, errors.NewValidationError("task", "must be CLASSIFICATION or REGRESSION", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Task) MarshalText() ([]byte, error) {
	if t != Classification && t != Regression {
		return nil, errors.NewValidationError("task", "undefined task", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Task) UnmarshalText(text []byte) error {
	parsed, err := ParseTask(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
