package model

import "slices"

// FitnessFunction describes one benchmark function the optimizer can minimize.
type FitnessFunction struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Bounds      [2]float64 `json:"bounds"`
	Optimum     float64    `json:"optimum"`
}

var functions = []FitnessFunction{
	{
		Name:        "rastrigin",
		Description: "Highly multimodal, regularly distributed local minima",
		Bounds:      [2]float64{-5.12, 5.12},
		Optimum:     0,
	},
	{
		Name:        "sphere",
		Description: "Convex unimodal bowl",
		Bounds:      [2]float64{-100, 100},
		Optimum:     0,
	},
	{
		Name:        "rosenbrock",
		Description: "Narrow curved valley",
		Bounds:      [2]float64{-5, 10},
		Optimum:     0,
	},
	{
		Name:        "ackley",
		Description: "Nearly flat outer region with a deep hole at the center",
		Bounds:      [2]float64{-5, 5},
		Optimum:     0,
	},
}

// Functions returns the fixed fitness function catalog.
func Functions() []FitnessFunction {
	return slices.Clone(functions)
}

func LookupFunction(name string) (FitnessFunction, bool) {
	idx := slices.IndexFunc(functions, func(f FitnessFunction) bool {
		return f.Name == name
	})
	if idx < 0 {
		return FitnessFunction{}, false
	}
	return functions[idx], true
}
