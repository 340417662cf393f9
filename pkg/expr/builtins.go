package expr

import "math"

// function is a builtin callable from a formula. arity < 0 means variadic
// with at least one argument.
type function struct {
	name  string
	arity int
	call  func(args []float64) float64
}

func unary(name string, f func(float64) float64) *function {
	return &function{name: name, arity: 1, call: func(a []float64) float64 { return f(a[0]) }}
}

func binary(name string, f func(float64, float64) float64) *function {
	return &function{name: name, arity: 2, call: func(a []float64) float64 { return f(a[0], a[1]) }}
}

var builtins = map[string]*function{
	"sin":   unary("sin", math.Sin),
	"cos":   unary("cos", math.Cos),
	"tan":   unary("tan", math.Tan),
	"asin":  unary("asin", math.Asin),
	"acos":  unary("acos", math.Acos),
	"atan":  unary("atan", math.Atan),
	"sinh":  unary("sinh", math.Sinh),
	"cosh":  unary("cosh", math.Cosh),
	"tanh":  unary("tanh", math.Tanh),
	"sqrt":  unary("sqrt", math.Sqrt),
	"abs":   unary("abs", math.Abs),
	"exp":   unary("exp", math.Exp),
	"ln":    unary("ln", math.Log),
	"log":   unary("log", math.Log10),
	"log2":  unary("log2", math.Log2),
	"log10": unary("log10", math.Log10),
	"floor": unary("floor", math.Floor),
	"ceil":  unary("ceil", math.Ceil),
	"round": unary("round", math.Round),
	"atan2": binary("atan2", math.Atan2),
	"pow":   binary("pow", math.Pow),
	"mod":   binary("mod", math.Mod),
	"min":   {name: "min", arity: -1, call: fold(math.Min)},
	"max":   {name: "max", arity: -1, call: fold(math.Max)},
}

func fold(f func(float64, float64) float64) func([]float64) float64 {
	return func(a []float64) float64 {
		acc := a[0]
		for _, v := range a[1:] {
			acc = f(acc, v)
		}
		return acc
	}
}

var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

// IsReserved reports whether name is a builtin function or constant and
// therefore cannot be bound as a variable.
func IsReserved(name string) bool {
	if _, ok := constants[name]; ok {
		return true
	}
	_, ok := builtins[name]
	return ok
}
