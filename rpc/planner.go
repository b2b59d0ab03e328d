// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/animation"
	"github.com/kortschak/imagecraft/internal/policy"
	"github.com/kortschak/imagecraft/internal/slogext"
	"github.com/kortschak/imagecraft/internal/store"
)

// Planner computes decimation plans for encoded GIF data.
type Planner struct {
	// Store caches computed plans. It may be nil.
	Store *store.DB
	// Metrics records plan outcomes. It may be nil.
	Metrics *Metrics
	// Log is the planner's logger. It must not be nil.
	Log *slog.Logger
}

// Plan returns the decimation plan for req. If req.Integrity is nil, the
// fidelity target is obtained by evaluating pol against the properties of
// the animation as it would be retained within budget; a nil pol retains
// all frames. Plans requested with an explicit integrity are looked up in
// the store before the data is decoded.
//
// Errors are returned as [jsonrpc2.WireError] values.
func (p Planner) Plan(ctx context.Context, req PlanRequest, pol *policy.Policy, budget animation.Budget) (PlanResult, error) {
	res, src, err := p.plan(ctx, req, pol, budget)
	if err != nil {
		src = sourceError
	}
	p.Metrics.count(src)
	return res, err
}

func (p Planner) plan(ctx context.Context, req PlanRequest, pol *policy.Policy, budget animation.Budget) (PlanResult, string, error) {
	if req.ID == "" {
		return PlanResult{}, "", NewError(ErrCodeParameters, "missing id", map[string]any{})
	}
	if len(req.Data) == 0 {
		return PlanResult{}, "", NewError(ErrCodeParameters, "missing data", map[string]any{"id": req.ID})
	}
	if pol == nil {
		pol = policy.Const(1)
	}

	sum := store.SumOf(req.Data)
	res := PlanResult{ID: req.ID, Sum: sum.String()}
	if req.Integrity != nil {
		res.Integrity = *req.Integrity
		if p.Store != nil {
			plan, err := p.Store.Get(req.ID, sum, res.Integrity)
			switch {
			case err == nil:
				res.Plan = plan
				res.Cached = true
				return res, sourceCached, nil
			case errors.Is(err, store.ErrNotFound):
			default:
				p.Log.LogAttrs(ctx, slog.LevelWarn, "cache lookup failed", slog.String("id", req.ID), slog.Any("error", err))
			}
		}
	}

	info, durations, err := animation.Inspect(bytes.NewReader(req.Data), budget)
	if err != nil {
		code := int64(ErrCodeImage)
		if errors.Is(err, animation.ErrBudget) {
			code = ErrCodeBudget
		}
		return PlanResult{}, "", NewError(code, err.Error(), map[string]any{"id": req.ID})
	}
	res.Info = &info
	if req.Integrity == nil {
		res.Integrity, err = pol.Integrity(info)
		if err != nil {
			return PlanResult{}, "", NewError(ErrCodePolicy, err.Error(), map[string]any{"id": req.ID, "policy": pol.String()})
		}
	}
	res.Plan = decimate.New(durations, res.Integrity)
	p.Log.LogAttrs(ctx, slog.LevelDebug, "computed plan", slog.String("id", req.ID), slog.Float64("integrity", res.Integrity), slog.Any("plan", slogext.Plan{Plan: res.Plan}))

	if p.Store != nil {
		_, _, err = p.Store.Put(store.Entry{
			ID:        req.ID,
			Sum:       sum,
			Integrity: res.Integrity,
			Plan:      res.Plan,
		})
		if err != nil {
			p.Log.LogAttrs(ctx, slog.LevelWarn, "cache store failed", slog.String("id", req.ID), slog.Any("error", err))
		}
	}
	p.Metrics.observe(len(res.Plan.Retained()), info.Frames)
	return res, sourceComputed, nil
}
