package protocol

// ProtectionSource exposes the externally owned protection flag
type ProtectionSource interface {
	Enabled() bool
}

// ShouldDrop decides whether a decoded frame is suppressed.
// Only attack-flagged frames are dropped, and only while protection is on.
func ShouldDrop(enabled bool, f ReceivedFrame) bool {
	return enabled && f.AttackFlagHex() == "01"
}

// Filter applies ShouldDrop against a live ProtectionSource.
// A nil source never drops.
func Filter(src ProtectionSource, f ReceivedFrame) bool {
	if src == nil {
		return false
	}
	return ShouldDrop(src.Enabled(), f)
}
