// Package runtime carries the pre-built runtime library IR every compiled
// program is linked against.
package runtime

import (
	_ "embed"
	"os"
	"path/filepath"
)

// FileName is the runtime IR file looked up next to the executable.
const FileName = "bsq_lib.ll"

//go:embed bsq_lib.ll
var embedded string

// Library returns the runtime library IR text. A bsq_lib.ll placed next to
// the running executable takes precedence over the embedded copy, so a
// rebuilt runtime can be dropped in without recompiling the compiler.
func Library() string {
	executable, err := os.Executable()
	if err != nil {
		return embedded
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(executable), FileName))
	if err != nil {
		return embedded
	}
	return string(data)
}
