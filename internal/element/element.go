// Package element defines the value types shared by every elmctl protocol:
// element paths, search coordinates, components, fingerprints, and change
// control values.
//
// All types here are immutable values. A [Path] is comparable and is the join
// key across sign-out, upload, and retrieval.
package element

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/elmctl/internal/errors"
)

// Path identifies an element at a specific map location.
type Path struct {
	Environment string `yaml:"environment" json:"environment"`
	StageNumber string `yaml:"stage" json:"stageNumber"`
	System      string `yaml:"system" json:"system"`
	Subsystem   string `yaml:"subsystem" json:"subsystem"`
	Type        string `yaml:"type" json:"type"`
	Name        string `yaml:"name" json:"name"`
}

// String renders the path as ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME.
func (p Path) String() string {
	return strings.Join([]string{p.Environment, p.StageNumber, p.System, p.Subsystem, p.Type, p.Name}, "/")
}

// SameLocation reports whether a and b share environment, stage, system and
// subsystem. Type and name may differ.
func SameLocation(a, b Path) bool {
	return a.Environment == b.Environment &&
		a.StageNumber == b.StageNumber &&
		a.System == b.System &&
		a.Subsystem == b.Subsystem
}

// Component returns the component view of p, dropping environment and stage.
func (p Path) Component() Component {
	return Component{System: p.System, Subsystem: p.Subsystem, Type: p.Type, Name: p.Name}
}

// Validate checks that every segment is present, usable as a file name, and
// that the stage is 1 or 2.
func (p Path) Validate() error {
	fields := []struct {
		name, value string
	}{
		{"environment", p.Environment},
		{"stage", p.StageNumber},
		{"system", p.System},
		{"subsystem", p.Subsystem},
		{"type", p.Type},
		{"name", p.Name},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return errors.NewValidationError(f.name + " cannot be empty").WithField(f.name)
		}
		if f.value == "." || f.value == ".." || strings.ContainsAny(f.value, "/\\\x00") {
			return errors.NewValidationError(f.name+" is not a valid segment").WithField(f.name).WithValue(f.value)
		}
	}
	if n, err := strconv.Atoi(p.StageNumber); err != nil || n < 1 || n > 2 {
		return errors.NewValidationError("stage must be 1 or 2").WithField("stage").WithValue(p.StageNumber)
	}
	return nil
}

// ParsePath parses ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME. Segments are
// upper-cased the way the remote stores them.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "/"), "/")
	if len(parts) != 6 {
		return Path{}, errors.NewValidationError(
			fmt.Sprintf("expected ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE/NAME, got %d segments", len(parts)),
		).WithField("path").WithValue(s)
	}
	for i := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(parts[i]))
	}
	p := Path{
		Environment: parts[0],
		StageNumber: parts[1],
		System:      parts[2],
		Subsystem:   parts[3],
		Type:        parts[4],
		Name:        parts[5],
	}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// Coordinate is the coarse search key shared by components that differ only
// by name. One in-place search per distinct coordinate serves all of them.
type Coordinate struct {
	Environment string
	StageNumber string
	System      string
	Subsystem   string
	Type        string
}

// String renders the coordinate as ENV/STAGE/SYSTEM/SUBSYSTEM/TYPE.
func (c Coordinate) String() string {
	return strings.Join([]string{c.Environment, c.StageNumber, c.System, c.Subsystem, c.Type}, "/")
}

// Component is a reference to another element, not yet bound to a stage.
type Component struct {
	System    string `json:"system"`
	Subsystem string `json:"subsystem"`
	Type      string `json:"type"`
	Name      string `json:"name"`
}

// String renders the component as SYSTEM/SUBSYSTEM/TYPE/NAME.
func (c Component) String() string {
	return strings.Join([]string{c.System, c.Subsystem, c.Type, c.Name}, "/")
}

// SearchCoordinate returns the key used to search for c in place from the
// given environment and stage.
func (c Component) SearchCoordinate(environment, stage string) Coordinate {
	return Coordinate{
		Environment: environment,
		StageNumber: stage,
		System:      c.System,
		Subsystem:   c.Subsystem,
		Type:        c.Type,
	}
}

// Fingerprint is an opaque token for the remote content version at last read.
type Fingerprint string

// ChangeControl is the human-supplied approval pair required for every write
// and sign-out.
type ChangeControl struct {
	CCID    string `yaml:"ccid" json:"ccid"`
	Comment string `yaml:"comment" json:"comment"`
}

const (
	maxCCIDLength    = 12
	maxCommentLength = 40
)

// Validate checks the remote's length limits.
func (cc ChangeControl) Validate() error {
	switch {
	case strings.TrimSpace(cc.CCID) == "":
		return errors.NewValidationError("ccid cannot be empty").WithField("ccid")
	case len(cc.CCID) > maxCCIDLength:
		return errors.NewValidationError(fmt.Sprintf("ccid must be at most %d characters", maxCCIDLength)).
			WithField("ccid").WithValue(cc.CCID)
	case strings.TrimSpace(cc.Comment) == "":
		return errors.NewValidationError("comment cannot be empty").WithField("comment")
	case len(cc.Comment) > maxCommentLength:
		return errors.NewValidationError(fmt.Sprintf("comment must be at most %d characters", maxCommentLength)).
			WithField("comment").WithValue(cc.Comment)
	}
	return nil
}

// Retrieved is element content together with the fingerprint it was read at.
type Retrieved struct {
	Content     string
	Fingerprint Fingerprint
}

// Names returns the element names of paths, in order.
func Names(paths []Path) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = p.Name
	}
	return names
}
