package semantic

import "thalis/internal/types"

// InvalidFunctionID is returned by ResolveOverload when no candidate
// is compatible. Spec §9(a)'s redesign flag: the caller (the compiler)
// must treat this as a hard link-time error, never silently emit it.
const InvalidFunctionID = 0

// score implements the table in spec §4.E. -1 means reject.
func score(actual, formal types.TypeInfo, r *Registry) int {
	if actual.PointerLevel != formal.PointerLevel {
		return -1
	}
	if actual.ID == formal.ID {
		return 0
	}
	if !actual.ID.IsPrimitive() && !formal.ID.IsPrimitive() {
		dc, fc := r.ClassByID(actual.ID), r.ClassByID(formal.ID)
		if dc != nil && fc != nil && InheritsFrom(dc, fc) {
			return 1
		}
		return -1
	}
	if actual.ID.IsPrimitive() && formal.ID.IsPrimitive() {
		ak, fk := actual.ID.Kind(), formal.ID.Kind()
		switch {
		case types.IsIntegerFamily(ak) && types.IsIntegerFamily(fk):
			if types.BitWidth(fk) >= types.BitWidth(ak) {
				return 1
			}
			return 2
		case types.IsRealFamily(ak) && types.IsRealFamily(fk):
			if types.BitWidth(fk) >= types.BitWidth(ak) {
				return 1
			}
			return 2
		case types.IsIntegerFamily(ak) && types.IsRealFamily(fk):
			return 3
		case types.IsRealFamily(ak) && types.IsIntegerFamily(fk):
			return 4
		}
	}
	// non-primitive target: an implicit one-arg "cast function"
	// constructor is scored 1 by the caller (ResolveOverload), which
	// has visibility into the formal class's constructor set; plain
	// score() rejects here so callers fall through to that check.
	return -1
}

// Candidate is a scored overload match.
type Candidate struct {
	FuncID      uint32
	Score       int
	CastFuncIDs []uint32 // per-parameter implicit cast function id, 0 if none
}

// CastInfo names the one-arg constructor an implicit cast resolves to,
// plus the class it constructs, so the emitter can lower it to a
// CONSTRUCTOR_CALL (spec §4.E: "record any implicit-cast function ids
// in parallel so the emitter can inject CAST opcodes" — the Go VM's
// cast is a constructor invocation rather than a byte-level CAST op).
type CastInfo struct {
	ClassID types.TypeID
	FuncID  uint32
}

// ResolveOverload is the core deterministic algorithm of spec §4.E /
// property P4: given a call name and argument TypeInfos, find the exact
// signature match if one exists, else score every arity-matching
// overload and return the minimum, ties broken by declaration order.
func (r *Registry) ResolveOverload(c *Class, name string, argTypes []types.TypeInfo) (uint32, []CastInfo) {
	sig := name
	for _, t := range argTypes {
		sig += "-" + t.SignatureName(r.ClassName)
	}
	if id, ok := c.BySignature[sig]; ok {
		return id, make([]CastInfo, len(argTypes))
	}

	ids := c.Overloads[name]
	best := uint32(InvalidFunctionID)
	bestScore := 1 << 30
	bestCasts := make([]CastInfo, len(argTypes))
	for _, id := range ids {
		fn := c.FunctionByID(id)
		if len(fn.Params) != len(argTypes) {
			continue
		}
		total := 0
		ok := true
		casts := make([]CastInfo, len(argTypes))
		for i, at := range argTypes {
			ft := fn.Params[i].Type
			sc := score(at, ft, r)
			if sc < 0 {
				if !ft.ID.IsPrimitive() {
					if castID, castOK := r.findImplicitCast(ft, at); castOK {
						sc = 1
						casts[i] = CastInfo{ClassID: ft.ID, FuncID: castID}
					}
				}
				if sc < 0 {
					ok = false
					break
				}
			}
			total += sc
		}
		if !ok {
			continue
		}
		if total < bestScore {
			bestScore = total
			best = id
			bestCasts = casts
		}
	}
	return best, bestCasts
}

// findImplicitCast looks for a one-argument constructor on the target
// class that accepts `actual` (spec §4.E: "non-primitive target with a
// one-arg constructor accepting actual").
func (r *Registry) findImplicitCast(target types.TypeInfo, actual types.TypeInfo) (uint32, bool) {
	if target.ID.IsPrimitive() {
		return 0, false
	}
	cls := r.ClassByID(target.ID)
	if cls == nil {
		return 0, false
	}
	for _, id := range cls.Overloads[cls.Name] {
		fn := cls.FunctionByID(id)
		if len(fn.Params) == 1 && score(actual, fn.Params[0].Type, r) >= 0 {
			return id, true
		}
	}
	return 0, false
}
