package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RunConfig holds the tunables of a single optimizer run.
type RunConfig struct {
	PopSize       int     `json:"popSize" yaml:"popSize" validate:"gte=2"`
	Generations   int     `json:"generations" yaml:"generations" validate:"gte=1"`
	MutationRate  float64 `json:"mutationRate" yaml:"mutationRate" validate:"gte=0,lte=1"`
	CrossoverRate float64 `json:"crossoverRate" yaml:"crossoverRate" validate:"gte=0,lte=1"`
	EliteRatio    float64 `json:"eliteRatio" yaml:"eliteRatio" validate:"gte=0,lte=1"`
	Delay         int     `json:"delay" yaml:"delay" validate:"gte=0"` // milliseconds between generations
	Function      string  `json:"function" yaml:"function" validate:"required,fitness"`
	MinBound      float64 `json:"minBound" yaml:"minBound" validate:"ltfield=MaxBound"`
	MaxBound      float64 `json:"maxBound" yaml:"maxBound"`
}

// DefaultRunConfig matches the built-in defaults of the optimizer binary.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		PopSize:       50,
		Generations:   100,
		MutationRate:  0.1,
		CrossoverRate: 0.8,
		EliteRatio:    0.2,
		Delay:         100,
		Function:      "rastrigin",
		MinBound:      -5.12,
		MaxBound:      5.12,
	}
}

// Overrides is a partial RunConfig. Nil fields keep the previous value.
type Overrides struct {
	PopSize       *int     `json:"popSize,omitempty" yaml:"popSize,omitempty"`
	Generations   *int     `json:"generations,omitempty" yaml:"generations,omitempty"`
	MutationRate  *float64 `json:"mutationRate,omitempty" yaml:"mutationRate,omitempty"`
	CrossoverRate *float64 `json:"crossoverRate,omitempty" yaml:"crossoverRate,omitempty"`
	EliteRatio    *float64 `json:"eliteRatio,omitempty" yaml:"eliteRatio,omitempty"`
	Delay         *int     `json:"delay,omitempty" yaml:"delay,omitempty"`
	Function      *string  `json:"function,omitempty" yaml:"function,omitempty"`
	MinBound      *float64 `json:"minBound,omitempty" yaml:"minBound,omitempty"`
	MaxBound      *float64 `json:"maxBound,omitempty" yaml:"maxBound,omitempty"`
}

// Merge returns a copy of c with every field set in o replaced.
func (c RunConfig) Merge(o Overrides) RunConfig {
	set(&c.PopSize, o.PopSize)
	set(&c.Generations, o.Generations)
	set(&c.MutationRate, o.MutationRate)
	set(&c.CrossoverRate, o.CrossoverRate)
	set(&c.EliteRatio, o.EliteRatio)
	set(&c.Delay, o.Delay)
	set(&c.Function, o.Function)
	set(&c.MinBound, o.MinBound)
	set(&c.MaxBound, o.MaxBound)
	return c
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Ptr is a helper for building Overrides literals.
func Ptr[T any](v T) *T {
	return &v
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("fitness", func(fl validator.FieldLevel) bool {
		_, ok := LookupFunction(fl.Field().String())
		return ok
	})
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports an ErrInvalidConfig error describing every violated constraint.
func (c RunConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: ErrInvalidConfig, Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return &Error{
		Kind:   ErrInvalidConfig,
		Detail: strings.Join(msgs, "; "),
		Hint:   "fix the listed parameters and try again",
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "fitness":
		return fmt.Sprintf("%s %q is not a known fitness function", fe.Field(), fe.Value())
	case "ltfield":
		return fmt.Sprintf("%s must be lower than maxBound", fe.Field())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
