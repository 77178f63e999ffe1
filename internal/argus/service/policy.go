package service

import (
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// DefaultTabSwitchThreshold is the number of tab-switch records that flags
// an exam.
const DefaultTabSwitchThreshold = 3

// FlagPolicy maps accumulated violations to a status change.
//
//   - any kind in ImmediateKinds flags on its first occurrence
//   - KindTabSwitch flags once its count reaches TabSwitchThreshold
//   - every other kind is recorded without a status change
//
// Flagging is one-way: the policy never moves an exam back to active.
type FlagPolicy struct {
	TabSwitchThreshold int
	ImmediateKinds     map[string]struct{}
}

func DefaultFlagPolicy() FlagPolicy {
	return FlagPolicy{
		TabSwitchThreshold: DefaultTabSwitchThreshold,
		ImmediateKinds:     map[string]struct{}{types.KindFaceAbsent: {}},
	}
}

// Decide implements store.DecideFunc.
func (p FlagPolicy) Decide(t store.Tally) types.ExamStatus {
	if t.Status != types.StatusActive {
		return t.Status
	}
	if _, ok := p.ImmediateKinds[t.Kind]; ok {
		return types.StatusFlagged
	}
	threshold := p.TabSwitchThreshold
	if threshold <= 0 {
		threshold = DefaultTabSwitchThreshold
	}
	if t.Kind == types.KindTabSwitch && t.KindCount >= threshold {
		return types.StatusFlagged
	}
	return t.Status
}
