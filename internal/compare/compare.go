// Package compare holds the generic ordering function TableMemory and the
// storage engine glue sort typed values with.
package compare

// Func orders two values of the same type, returning negative, zero, or
// positive the way sort.Interface's Less would, generalized to a
// three-way comparison.
type Func[V any] func(a, b V) int
