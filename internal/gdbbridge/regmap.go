// Package gdbbridge implements the GDB-remote-to-Iris bridge (spec.md
// §4.7, component C7): a single-CPU GDB stub whose register/memory/
// breakpoint packets are translated into Iris resourceRead/Write,
// memoryRead/Write, and breakpoint set/clear calls against one selected
// instance.
package gdbbridge

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/Linaro/lite-cornea/internal/cos"
)

// RegSlot names one slot of a GDB architecture's "g"-packet register
// file: which Iris resource backs it and how many bytes wide it is on
// the wire.
type RegSlot struct {
	ResourceName string `yaml:"resource"`
	Width        int    `yaml:"width"` // bytes
}

// regTable is the static, implementer-supplied register ordering for one
// architecture (spec.md's Open Question 1): GDB has no way to discover
// this from the Iris server, so it is hard-coded data rather than
// inferred, the same way Delve's gdbserver.go keeps a fixed
// gdbRegisters table instead of querying the target for register names.
type regTable []RegSlot

// armv6mRegTable matches the org.gnu.gdb.arm.m-profile target.xml feature
// seen in aykevl/tinygo-emulator's gdbAnnexTarget: r0-r12, sp, lr, pc,
// xpsr, 17 slots of 4 bytes each.
var armv6mRegTable = regTable{
	{"r0", 4}, {"r1", 4}, {"r2", 4}, {"r3", 4},
	{"r4", 4}, {"r5", 4}, {"r6", 4}, {"r7", 4},
	{"r8", 4}, {"r9", 4}, {"r10", 4}, {"r11", 4}, {"r12", 4},
	{"sp", 4}, {"lr", 4}, {"pc", 4}, {"xpsr", 4},
}

// aarch64RegTable matches GDB's org.gnu.gdb.aarch64.core feature: x0-x30,
// sp, pc, cpsr. x0-x30 and sp are 8 bytes; pc is 8 bytes; cpsr is 4.
var aarch64RegTable = func() regTable {
	t := make(regTable, 0, 34)
	for i := 0; i < 31; i++ {
		t = append(t, RegSlot{ResourceName: xRegName(i), Width: 8})
	}
	t = append(t, RegSlot{ResourceName: "sp", Width: 8})
	t = append(t, RegSlot{ResourceName: "pc", Width: 8})
	t = append(t, RegSlot{ResourceName: "cpsr", Width: 4})
	return t
}()

func xRegName(i int) string {
	return "x" + strconv.Itoa(i)
}

// regTableFor resolves the GDB register table for a declared architecture
// name, as reported by the selected instance's resource catalog. When
// regTableDir is non-empty, a "<arch>.yaml" file there overrides the
// built-in table (Config.RegTableDir), letting a deployment describe a
// CPU variant this package doesn't know about without a code change.
func regTableFor(arch, regTableDir string) (regTable, error) {
	if regTableDir != "" {
		t, ok, err := loadRegTableOverride(regTableDir, arch)
		if err != nil {
			return nil, cos.Wrapf(err, "gdbbridge: load register table override for %q", arch)
		}
		if ok {
			return t, nil
		}
	}
	switch arch {
	case "armv6-m":
		return armv6mRegTable, nil
	case "aarch64":
		return aarch64RegTable, nil
	default:
		return nil, &cos.ErrGdbProtocol{Reason: "unsupported architecture: " + arch}
	}
}

// loadRegTableOverride reads <dir>/<arch>.yaml, a flat list of
// {resource, width} entries in g-packet order. A missing file is not an
// error: the caller falls back to the built-in table.
func loadRegTableOverride(dir, arch string) (regTable, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, arch+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var t regTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, false, err
	}
	return t, true, nil
}
