package operation

import (
	"fmt"
	"sort"
)

// OperationContainer collects every operation of a block, bucketed by
// target. Within a bucket operations keep insertion order; the global order
// is recovered through the RWC field.
type OperationContainer struct {
	buckets map[Target][]Operation
}

// NewContainer returns an empty container.
func NewContainer() *OperationContainer {
	return &OperationContainer{buckets: make(map[Target][]Operation)}
}

// Insert appends an operation under its counter slot and returns a Ref to
// it. The caller owns counter assignment; the container only records.
func (c *OperationContainer) Insert(rwc uint64, rw RW, reversible bool, op Op) Ref {
	target := op.Target()
	c.buckets[target] = append(c.buckets[target], Operation{
		RWC:        rwc,
		RW:         rw,
		Reversible: reversible,
		Op:         op,
	})
	return Ref{Target: target, Index: len(c.buckets[target]) - 1}
}

// Get resolves a Ref. It returns nil for a dangling reference.
func (c *OperationContainer) Get(ref Ref) *Operation {
	bucket := c.buckets[ref.Target]
	if ref.Index < 0 || ref.Index >= len(bucket) {
		return nil
	}
	return &bucket[ref.Index]
}

// Ops returns the bucket for a target in insertion order. The slice is
// shared, callers must not modify it.
func (c *OperationContainer) Ops(target Target) []Operation {
	return c.buckets[target]
}

// Len returns the total number of recorded operations.
func (c *OperationContainer) Len() int {
	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// All visits every operation. Order within a target is insertion order;
// targets are visited in enum order.
func (c *OperationContainer) All(visit func(Operation)) {
	for t := TargetStart; t <= TargetStepState; t++ {
		for _, op := range c.buckets[t] {
			visit(op)
		}
	}
}

// Sorted returns every operation in global counter order. Within a target
// counters are already ascending, so this is a merge across buckets.
func (c *OperationContainer) Sorted() []Operation {
	out := make([]Operation, 0, c.Len())
	c.All(func(op Operation) { out = append(out, op) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].RWC < out[j].RWC })
	return out
}

// ReverseOp builds the operation that undoes a reversible write by swapping
// its current and previous values. It errors on payloads that carry no
// previous value and therefore cannot be reversed.
func ReverseOp(op Op) (Op, error) {
	switch op := op.(type) {
	case *StorageOp:
		rev := *op
		rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
		return &rev, nil
	case *TransientStorageOp:
		rev := *op
		rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
		return &rev, nil
	case *AccountOp:
		rev := *op
		rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
		return &rev, nil
	case *TxAccessListAccountOp:
		rev := *op
		rev.IsWarm, rev.IsWarmPrev = op.IsWarmPrev, op.IsWarm
		return &rev, nil
	case *TxAccessListAccountStorageOp:
		rev := *op
		rev.IsWarm, rev.IsWarmPrev = op.IsWarmPrev, op.IsWarm
		return &rev, nil
	case *TxRefundOp:
		rev := *op
		rev.Value, rev.ValuePrev = op.ValuePrev, op.Value
		return &rev, nil
	default:
		return nil, fmt.Errorf("operation %s cannot be reversed", op.Target())
	}
}
