package sig

import (
	"runtime"

	"github.com/Itay2805/tinydotnet/types"
)

func init() {
	types.PointerSize = NativeIntSize()
}

// NativeIntSize returns the byte width IntPtr/UIntPtr locals, fields, and
// stack slots use on this build target: 8 on every arch the JIT currently
// ships for, 4 only on the handful of 32-bit GOARCH values Go still
// supports. types.PointerSize is set from this once at process start so the
// registry and the signature preparer never disagree on native width.
func NativeIntSize() int {
	switch runtime.GOARCH {
	case "386", "arm", "mips", "mipsle":
		return 4
	default:
		return 8
	}
}
