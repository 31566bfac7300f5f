// Package obis implements the Object Identification System identifier
// and the COSEM attribute reference built on top of it.
package obis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// component-presence bits, returned by ParseComp so callers can tell
// which octets were explicit in the source string versus defaulted.
const (
	HasA = 0x20
	HasB = 0x10
	HasC = 0x08
	HasD = 0x04
	HasE = 0x02
	HasF = 0x01
)

// Code is the six-octet OBIS identifier of spec.md §3. Immutable once
// constructed.
type Code struct {
	A, B, C, D, E, F byte
}

func (o Code) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
}

func (o Code) Bytes() []byte {
	return []byte{o.A, o.B, o.C, o.D, o.E, o.F}
}

func (o Code) Equal(other Code) bool {
	return o == other
}

// FromBytes decodes the canonical 6-octet wire form.
func FromBytes(src []byte) (Code, error) {
	if len(src) < 6 {
		return Code{}, fmt.Errorf("obis: need 6 bytes, got %d", len(src))
	}
	return Code{A: src[0], B: src[1], C: src[2], D: src[3], E: src[4], F: src[5]}, nil
}

var canonicalForm = regexp.MustCompile(`^((\d+)-(\d+):)?(\d+)\.(\d+)(\.(\d+)(\.(\d+))?)?$`)

func atoi(s string) (int, error) {
	return strconv.Atoi(s)
}

// Parse accepts the two canonical string forms named in spec.md §3 and
// §6: "A-B:C.D.E.F" and the all-dot form "A.B.C.D.E.F", or any subset
// ("C.D", "C.D.E", "C.D.E.F", "A-B:C.D") with E and F defaulting to 255 and
// A/B defaulting to 0 when the "A-B:" group is absent.
func Parse(src string) (Code, error) {
	c, _, err := ParseComp(src)
	return c, err
}

// ParseComp is Parse but additionally returns which octets were present
// explicitly in src, as a bit-set of Has* flags.
func ParseComp(src string) (ob Code, comp int, err error) {
	if strings.Count(src, ".") == 5 && !strings.ContainsAny(src, "-:") {
		if ob, err = ParseWithSeparator(src, '.'); err != nil {
			return Code{}, 0, err
		}
		return ob, HasA | HasB | HasC | HasD | HasE | HasF, nil
	}
	m := canonicalForm.FindStringSubmatch(src)
	if m == nil {
		return Code{}, 0, fmt.Errorf("obis: invalid format %q", src)
	}
	comp = HasC | HasD
	a, b := 0, 0
	if m[1] != "" {
		if a, err = atoi(m[2]); err != nil {
			return Code{}, 0, err
		}
		if b, err = atoi(m[3]); err != nil {
			return Code{}, 0, err
		}
		comp |= HasA | HasB
	}
	c, err := atoi(m[4])
	if err != nil {
		return Code{}, 0, err
	}
	d, err := atoi(m[5])
	if err != nil {
		return Code{}, 0, err
	}
	e, f := 255, 255
	if m[6] != "" {
		if e, err = atoi(m[7]); err != nil {
			return Code{}, 0, err
		}
		comp |= HasE
		if m[8] != "" {
			if f, err = atoi(m[9]); err != nil {
				return Code{}, 0, err
			}
			comp |= HasF
		}
	}
	for _, v := range []int{a, b, c, d, e, f} {
		if v < 0 || v > 255 {
			return Code{}, 0, fmt.Errorf("obis: octet %d out of range", v)
		}
	}
	return Code{A: byte(a), B: byte(b), C: byte(c), D: byte(d), E: byte(e), F: byte(f)}, comp, nil
}

// ParseWithSeparator parses a sextet (or any leading subset of it, `E` and
// `F` defaulting to 255) whose six octets are all separated by the same
// single-character separator, e.g. ParseWithSeparator("1.0.1.8.0.255", '.')
// or ParseWithSeparator("1-0-1-8-0-255", '-'). This is the "configurable
// separator" form named in spec.md §3, distinct from the two fixed
// canonical forms handled by Parse.
func ParseWithSeparator(src string, sep byte) (Code, error) {
	parts := strings.Split(src, string(sep))
	if len(parts) < 2 || len(parts) > 6 {
		return Code{}, fmt.Errorf("obis: expected 2-6 components separated by %q, got %d", sep, len(parts))
	}
	vals := [6]int{0, 0, 0, 0, 255, 255}
	for i, p := range parts {
		v, err := atoi(p)
		if err != nil {
			return Code{}, fmt.Errorf("obis: invalid component %q: %w", p, err)
		}
		if v < 0 || v > 255 {
			return Code{}, fmt.Errorf("obis: component %q out of range", p)
		}
		vals[i] = v
	}
	return Code{
		A: byte(vals[0]), B: byte(vals[1]), C: byte(vals[2]),
		D: byte(vals[3]), E: byte(vals[4]), F: byte(vals[5]),
	}, nil
}

// AttributeDescriptor is the COSEM attribute reference triple of
// spec.md §3: (interface_class, instance, attribute).
type AttributeDescriptor struct {
	Class     uint16
	Instance  Code
	Attribute int8
}

func (a AttributeDescriptor) String() string {
	return fmt.Sprintf("%d/%s/%d", a.Class, a.Instance, a.Attribute)
}
