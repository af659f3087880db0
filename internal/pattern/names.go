package pattern

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultNames is the pool of generated device labels. New groups cycle
// through the pool, then through "Phone 2", "Tablet 2", and so on. The
// labels are placeholders a user is expected to correct, so they read as
// plausible guesses rather than opaque ids.
var defaultNames = []string{
	"Phone",
	"Tablet",
	"Laptop",
	"Smartwatch",
	"Headphones",
	"E-Reader",
	"Power Bank",
	"Camera",
	"Drone",
	"Game Controller",
	"Speaker",
	"Power Tool",
}

// IsManualName reports whether name was chosen by a person. Generated
// labels are pool entries and their numbered variants ("Tablet", "Tablet 3");
// everything else non-blank counts as manual and must survive rebuilds.
func IsManualName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, base := range defaultNames {
		if name == base {
			return false
		}
		rest, ok := strings.CutPrefix(name, base+" ")
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(rest); err == nil {
			return false
		}
	}
	return true
}

// nextDefaultName returns the first generated label for which used reports
// false, scanning the pool in order and then numbered cycles. It is a pure
// function of the current collection, so two groups can never be handed the
// same label no matter how earlier groups were renamed or merged away.
func nextDefaultName(used func(string) bool) string {
	for cycle := 1; ; cycle++ {
		for _, base := range defaultNames {
			candidate := base
			if cycle > 1 {
				candidate = fmt.Sprintf("%s %d", base, cycle)
			}
			if !used(candidate) {
				return candidate
			}
		}
	}
}
