package step

import (
	"fmt"
	"path"
	"strings"
)

// Phase identifies which step list a descriptor was built from.
type Phase int

const (
	PhasePre Phase = iota
	PhasePost
	// PhaseTest is used by the script-driven suite body only.
	PhaseTest
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre_suite"
	case PhasePost:
		return "post_suite"
	case PhaseTest:
		return "tests"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Descriptor identifies one executable step. It is immutable once built.
type Descriptor struct {
	reference string
	phase     Phase
	index     int
}

// NewDescriptor builds a descriptor for the step at position index of the given phase.
func NewDescriptor(reference string, phase Phase, index int) Descriptor {
	return Descriptor{reference: reference, phase: phase, index: index}
}

// Descriptors turns an ordered list of step references into descriptors.
// Ordering is preserved index for index; numeric prefixes in file names are not interpreted.
func Descriptors(phase Phase, references []string) []Descriptor {
	out := make([]Descriptor, len(references))
	for i, ref := range references {
		out[i] = NewDescriptor(ref, phase, i)
	}
	return out
}

func (d Descriptor) Reference() string {
	return d.reference
}

func (d Descriptor) Phase() Phase {
	return d.phase
}

func (d Descriptor) Index() int {
	return d.index
}

// Name is the base name of the reference without its extension, e.g.
// "setup/aio/010_Install.rb" -> "010_Install".
func (d Descriptor) Name() string {
	base := path.Base(strings.ReplaceAll(d.reference, "\\", "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s[%d] %s", d.phase, d.index, d.reference)
}
