package partops

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oxidisk/oxidisk/oxierr"
)

var fatLabelPattern = regexp.MustCompile(`^[A-Z0-9 _-]*$`)
var rfc4122Pattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
)

// ValidateLabel enforces the per-filesystem label policy from spec §4.G's
// table. An unknown fs is itself an [oxierr.ErrInvalidInput].
func (rs *RuleSet) ValidateLabel(fs, label string) oxierr.DriverError {
	r, ok := rs.rule(fs)
	if !ok {
		return oxierr.InvalidInput("fs", fmt.Sprintf("unsupported filesystem %q", fs))
	}

	if r.MaxLabelLen == 0 {
		if label != "" {
			return oxierr.InvalidInput("label", fmt.Sprintf("%s does not support labels", fs))
		}
		return nil
	}

	if len(label) > r.MaxLabelLen {
		return oxierr.InvalidInput("label", fmt.Sprintf("%s ≤ %d chars", fs, r.MaxLabelLen))
	}

	switch LabelCharset(r.LabelCharset) {
	case CharsetUpperAlnumSpaceDashUnder:
		if !fatLabelPattern.MatchString(label) {
			return oxierr.InvalidInput("label", fmt.Sprintf("%s ≤ %d chars uppercase", fs, r.MaxLabelLen))
		}
	case CharsetAny, CharsetNone:
		// no character restriction beyond length
	}
	return nil
}

// ValidateUUID enforces the per-filesystem UUID policy from spec §4.G's
// table. An empty uuid is always accepted (the caller wants one
// autogenerated downstream).
func (rs *RuleSet) ValidateUUID(fs, uuid string) oxierr.DriverError {
	if uuid == "" {
		return nil
	}
	r, ok := rs.rule(fs)
	if !ok {
		return oxierr.InvalidInput("fs", fmt.Sprintf("unsupported filesystem %q", fs))
	}

	switch UUIDPolicy(r.UUIDPolicy) {
	case UUIDNone:
		return oxierr.InvalidInput("uuid", fmt.Sprintf("%s does not accept a caller-supplied uuid", fs))
	case UUIDRFC4122:
		if !rfc4122Pattern.MatchString(uuid) {
			return oxierr.InvalidInput("uuid", "must be RFC-4122 form")
		}
	case UUIDRFC4122OrRandom:
		if strings.EqualFold(uuid, "random") {
			return nil
		}
		if !rfc4122Pattern.MatchString(uuid) {
			return oxierr.InvalidInput("uuid", `must be RFC-4122 form or literal "random"`)
		}
	}
	return nil
}
