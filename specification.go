package delegatekit

// Predicate is a side-effect-free rule over a value. It reports whether the
// value satisfies the rule and, when it does not, a human-readable reason.
// A satisfied predicate carries no reason.
//
// Predicates compose into trees with And, Or and Not; composite rules used
// by the engine and the quota manager are built this way.
type Predicate[T any] func(v T) (ok bool, reason string)

// And combines two predicates; both must be satisfied. The first operand is
// evaluated first and short-circuits: if it fails, its reason is the result
// and the second operand is never evaluated. Otherwise the result is the
// second operand's.
func And[T any](a, b Predicate[T]) Predicate[T] {
	return func(v T) (bool, string) {
		if ok, reason := a(v); !ok {
			return false, reason
		}
		return b(v)
	}
}

// Or combines two predicates; one satisfied operand is enough. If the first
// succeeds the second is never evaluated and no reason is carried. If both
// fail, the reason is the second operand's — the last attempted check is
// the more relevant diagnostic.
func Or[T any](a, b Predicate[T]) Predicate[T] {
	return func(v T) (bool, string) {
		if ok, _ := a(v); ok {
			return true, ""
		}
		ok, reason := b(v)
		if ok {
			return true, ""
		}
		return false, reason
	}
}

// reasonUnexpectedlySatisfied is the fixed reason a negated predicate fails
// with; the inner predicate's own reason does not apply to its negation.
const reasonUnexpectedlySatisfied = "specification should not have been satisfied"

// Not inverts a predicate: it is satisfied exactly when the inner predicate
// is not. On failure it carries a fixed generic reason.
func Not[T any](a Predicate[T]) Predicate[T] {
	return func(v T) (bool, string) {
		if ok, _ := a(v); ok {
			return false, reasonUnexpectedlySatisfied
		}
		return true, ""
	}
}
