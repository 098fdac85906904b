package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// TrafficTolerance is how far the sum of variant traffic may drift from 1.
const TrafficTolerance = 0.01

// MinVariants is the number of variants required before an experiment may run.
const MinVariants = 2

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Names are stored trimmed, so whitespace alone is no name.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
		return Metric(fl.Field().String()).Known()
	})
	return v
}

// Validate checks an experiment configuration and reports every problem found.
func Validate(cfg ExperimentConfig) error {
	ve := &ValidationError{}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating experiment configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			ve.add(fieldPath(fe), "%s", describe(fe))
		}
	}

	traffic := make([]float64, len(cfg.Variants))
	for i, v := range cfg.Variants {
		traffic[i] = v.TrafficPercent
	}
	if len(cfg.Variants) > 0 && !TrafficBalanced(traffic) {
		ve.add("variants", "traffic percentages sum to %.4f, want 1 ± %.2f", sum(traffic), TrafficTolerance)
	}

	return ve.orNil()
}

// ValidateVariants checks the invariants a variant set must hold before an
// experiment may leave DRAFT.
func ValidateVariants(variants []*Variant) error {
	ve := &ValidationError{}
	if len(variants) < MinVariants {
		ve.add("variants", "at least %d variants required, have %d", MinVariants, len(variants))
	}
	traffic := make([]float64, len(variants))
	for i, v := range variants {
		traffic[i] = v.TrafficPercent
	}
	if len(variants) > 0 && !TrafficBalanced(traffic) {
		ve.add("variants", "traffic percentages sum to %.4f, want 1 ± %.2f", sum(traffic), TrafficTolerance)
	}
	return ve.orNil()
}

// TrafficBalanced reports whether the percentages sum to 1 within TrafficTolerance.
func TrafficBalanced(traffic []float64) bool {
	// 1e-9 keeps an exact ±0.01 from being rejected by float noise.
	return math.Abs(sum(traffic)-1) <= TrafficTolerance+1e-9
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return toSnake(ns)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		if fe.Field() == "Variants" {
			return fmt.Sprintf("at least %s variants required", fe.Param())
		}
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt", "lte":
		return fmt.Sprintf("must be in (0,1], got %v", fe.Value())
	case "unique":
		return "must not contain duplicates"
	case "metric":
		return fmt.Sprintf("unknown metric %q", fe.Value())
	}
	return fmt.Sprintf("failed %q", fe.Tag())
}

// toSnake turns "Variants[0].TrafficPercent" into "variants[0].traffic_percent".
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '.' && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
