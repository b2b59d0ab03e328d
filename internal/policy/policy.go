// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package policy provides CEL-programmable fidelity targets for frame
// decimation.
//
// A policy is a CEL expression evaluated against the properties of an
// animation as it would be retained after decoding. The following
// variables are available:
//
//	frames    int    number of frames in the animation
//	width     int    width of retained frames in pixels
//	height    int    height of retained frames in pixels
//	footprint int    pixel bytes needed to retain every frame
//	duration  double total display duration in seconds
//	fps       double mean frame rate
//
// The expression must evaluate to a number which is used as the fidelity
// target. In addition to the standard CEL library, a clamp function is
// provided:
//
//	clamp(<double>, <double>, <double>) -> <double>
//
// which returns the first argument clamped to the closed interval given
// by the second and third arguments.
//
// Examples:
//
//	1.0
//	frames > 100 ? 0.5 : 1.0
//	clamp(15.0 / fps, 0.25, 1.0)
//	footprint > 64 * 1024 * 1024 ? double(64 * 1024 * 1024) / double(footprint) : 1.0
package policy

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Default is the default policy expression. It retains all frames.
const Default = "1.0"

// Info holds the properties of an animation used to evaluate a policy.
type Info struct {
	Frames   int     `json:"frames"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Bytes    int64   `json:"bytes"`
	Duration float64 `json:"duration"` // Seconds.
}

// FPS returns the mean frame rate of the animation, or zero if the
// duration is not positive.
func (i Info) FPS() float64 {
	if i.Duration <= 0 {
		return 0
	}
	return float64(i.Frames) / i.Duration
}

// Policy is a compiled fidelity policy.
type Policy struct {
	src string
	prg cel.Program
}

// Compile returns a Policy for the provided CEL source.
func Compile(src string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Lib(mathLib{}),
		cel.Variable("frames", cel.IntType),
		cel.Variable("width", cel.IntType),
		cel.Variable("height", cel.IntType),
		cel.Variable("footprint", cel.IntType),
		cel.Variable("duration", cel.DoubleType),
		cel.Variable("fps", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}

	ast, iss := env.Compile(src)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed compilation: %v", iss.Err())
	}
	if t := ast.OutputType(); !isNumber(t) {
		return nil, fmt.Errorf("policy result must be a number: got %s", t)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed program instantiation: %v", err)
	}
	return &Policy{src: src, prg: prg}, nil
}

func isNumber(t *cel.Type) bool {
	for _, n := range []*cel.Type{cel.DoubleType, cel.IntType, cel.UintType, cel.DynType} {
		if t.IsExactType(n) {
			return true
		}
	}
	return false
}

// Const returns a Policy that always yields v.
func Const(v float64) *Policy {
	return &Policy{src: strconv.FormatFloat(v, 'g', -1, 64)}
}

// String returns the source of the policy.
func (p *Policy) String() string {
	return p.src
}

// Integrity returns the fidelity target for an animation described by
// info. The returned value is not clamped.
func (p *Policy) Integrity(info Info) (float64, error) {
	if p.prg == nil {
		return strconv.ParseFloat(p.src, 64)
	}
	out, _, err := p.prg.Eval(map[string]any{
		"frames":    info.Frames,
		"width":     info.Width,
		"height":    info.Height,
		"footprint": info.Bytes,
		"duration":  info.Duration,
		"fps":       info.FPS(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed eval: %v", err)
	}

	switch out := out.(type) {
	case types.Double:
		if math.IsNaN(float64(out)) {
			return 0, fmt.Errorf("policy result is NaN")
		}
		return float64(out), nil
	case types.Int:
		return float64(out), nil
	case types.Uint:
		return float64(out), nil
	default:
		return 0, fmt.Errorf("policy result must be a number: got %s", out.Type())
	}
}

type mathLib struct{}

func (mathLib) ProgramOptions() []cel.ProgramOption { return nil }

func (l mathLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("clamp",
			cel.Overload(
				"clamp_double_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType},
				cel.DoubleType,
				cel.FunctionBinding(l.clamp),
			),
		),
	}
}

func (mathLib) clamp(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("no such overload")
	}
	v, ok := args[0].(types.Double)
	if !ok {
		return types.ValOrErr(args[0], "no such overload")
	}
	lo, ok := args[1].(types.Double)
	if !ok {
		return types.ValOrErr(args[1], "no such overload")
	}
	hi, ok := args[2].(types.Double)
	if !ok {
		return types.ValOrErr(args[2], "no such overload")
	}
	if lo > hi {
		return types.NewErr("invalid clamp interval: [%v, %v]", lo, hi)
	}
	return types.Double(math.Min(math.Max(float64(v), float64(lo)), float64(hi)))
}
