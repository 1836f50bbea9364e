package protocol

import "testing"

type staticProtection bool

func (s staticProtection) Enabled() bool { return bool(s) }

func TestShouldDrop(t *testing.T) {
	testCases := []struct {
		enabled bool
		frame   ReceivedFrame
		drop    bool
	}{
		{true, ReceivedFrame{HasAttackFlag: true, AttackFlag: 0x01}, true},
		{true, ReceivedFrame{HasAttackFlag: true, AttackFlag: 0x00}, false},
		{true, ReceivedFrame{HasAttackFlag: true, AttackFlag: 0x10}, false},
		{true, ReceivedFrame{HasAttackFlag: false, AttackFlag: 0x01}, false},
		{false, ReceivedFrame{HasAttackFlag: true, AttackFlag: 0x01}, false},
		{false, ReceivedFrame{HasAttackFlag: true, AttackFlag: 0x00}, false},
		{false, ReceivedFrame{}, false},
	}

	for i, tc := range testCases {
		if got := ShouldDrop(tc.enabled, tc.frame); got != tc.drop {
			t.Errorf("Case %d: ShouldDrop(%v, flag=%q) = %v, want %v",
				i, tc.enabled, tc.frame.AttackFlagHex(), got, tc.drop)
		}
	}
}

func TestFilterReadsSource(t *testing.T) {
	attack := ReceivedFrame{HasAttackFlag: true, AttackFlag: AttackFlagValue}

	if Filter(nil, attack) {
		t.Error("Nil source should never drop")
	}
	if Filter(staticProtection(false), attack) {
		t.Error("Disabled protection should pass attack frames")
	}
	if !Filter(staticProtection(true), attack) {
		t.Error("Enabled protection should drop attack frames")
	}
}
