package hypothesis

import "fmt"

// logSourceForTactic infers a logsource category from the activity the
// tactic implies. evidence_ref is an opaque pointer the core never
// dereferences, so detection predicates are drawn from the structural
// facts triage already carries, not from telemetry internals.
func logSourceForTactic(tactic string) string {
	switch tactic {
	case "credential-access":
		return "authentication"
	case "lateral-movement":
		return "network"
	case "execution":
		return "process_creation"
	case "persistence":
		return "registry_event"
	case "exfiltration", "command-and-control":
		return "network_connection"
	default:
		return "generic"
	}
}

// detectionGaps drafts a structured rule for every candidate TTP lacking a
// retrieval-confirmed detection rule.
func detectionGaps(ttps []string, tactics map[string][]string, confirmed map[string]bool, evidenceRefs []string) []DetectionGapRule {
	tacticByTTP := make(map[string]string, len(ttps))
	for tactic, ids := range tactics {
		for _, id := range ids {
			tacticByTTP[id] = tactic
		}
	}

	var gaps []DetectionGapRule
	for _, ttp := range ttps {
		if confirmed[ttp] {
			continue
		}
		tactic := tacticByTTP[ttp]
		logSource := logSourceForTactic(tactic)

		predicates := []string{fmt.Sprintf("tags contains %q", ttp)}
		if len(evidenceRefs) > 0 {
			predicates = append(predicates, "evidence_ref in incident.evidence_refs")
		}

		gaps = append(gaps, DetectionGapRule{
			Title:               fmt.Sprintf("Detect %s activity", ttp),
			ID:                  fmt.Sprintf("gap-%s", ttp),
			TechniqueID:         ttp,
			LogSource:           logSource,
			DetectionPredicates: predicates,
			Tags:                []string{"attack." + ttp},
			PositiveTestEvent: map[string]any{
				"tags":         []string{ttp},
				"event.action": "match",
			},
			NegativeTestEvent: map[string]any{
				"tags":         []string{},
				"event.action": "no_match",
			},
		})
	}
	return gaps
}
