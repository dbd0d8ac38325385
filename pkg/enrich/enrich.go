// Package enrich wires the retrieval engine into the analysts: a
// retrieval-inferred technique tagger for triage and a memoized
// technique-to-tactic resolver for the hypothesis stage. Both are thin
// adapters over retrieval.Engine so the analysts themselves stay free of
// any retrieval dependency.
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sentorproj/sentor/pkg/hypothesis"
	"github.com/sentorproj/sentor/pkg/retrieval"
	"github.com/sentorproj/sentor/pkg/triage"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

const defaultLookupTimeout = 5 * time.Second

// staticTactics is the built-in technique-to-tactic mapping consulted when
// retrieval has no indexed document for a technique. Sub-techniques fall
// back to their parent's entry.
var staticTactics = map[string]string{
	"T1003": "credential-access",
	"T1021": "lateral-movement",
	"T1041": "exfiltration",
	"T1053": "persistence",
	"T1059": "execution",
	"T1068": "privilege-escalation",
	"T1071": "command-and-control",
	"T1110": "credential-access",
	"T1190": "initial-access",
	"T1486": "impact",
	"T1505": "persistence",
	"T1566": "initial-access",
}

func metaString(md map[string]any, key string) string {
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

// TacticResolver implements hypothesis.TacticResolver over the retrieval
// engine, memoizing every lookup in a single-owner technique cache so one
// incident never queries the same technique twice.
type TacticResolver struct {
	engine  *retrieval.Engine
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]cachedTactic
}

type cachedTactic struct {
	tactic string
	ok     bool
}

// NewTacticResolver constructs a resolver with an empty cache.
func NewTacticResolver(engine *retrieval.Engine) *TacticResolver {
	return &TacticResolver{
		engine:  engine,
		timeout: defaultLookupTimeout,
		cache:   make(map[string]cachedTactic),
	}
}

// TacticFor implements hypothesis.TacticResolver: cache, then retrieval,
// then the static mapping. A retrieval error is not cached so a transient
// failure doesn't poison the technique cache.
func (r *TacticResolver) TacticFor(techniqueID string) (string, bool) {
	r.mu.Lock()
	if hit, ok := r.cache[techniqueID]; ok {
		r.mu.Unlock()
		return hit.tactic, hit.ok
	}
	r.mu.Unlock()

	tactic, ok, transient := r.lookup(techniqueID)
	if transient {
		return tactic, ok
	}

	r.mu.Lock()
	r.cache[techniqueID] = cachedTactic{tactic: tactic, ok: ok}
	r.mu.Unlock()
	return tactic, ok
}

func (r *TacticResolver) lookup(techniqueID string) (tactic string, ok, transient bool) {
	if r.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		results, err := r.engine.QueryByAttackTechnique(ctx, techniqueID, 1)
		if err != nil {
			if t, found := staticTactic(techniqueID); found {
				return t, true, true
			}
			return "", false, true
		}
		if len(results) > 0 {
			if t := metaString(results[0].Metadata, "tactic"); t != "" {
				return t, true, false
			}
		}
	}
	t, found := staticTactic(techniqueID)
	return t, found, false
}

func staticTactic(techniqueID string) (string, bool) {
	if t, ok := staticTactics[techniqueID]; ok {
		return t, true
	}
	// T1021.004 falls back to T1021.
	if parent, _, found := strings.Cut(techniqueID, "."); found {
		if t, ok := staticTactics[parent]; ok {
			return t, true
		}
	}
	return "", false
}

// TechniqueRetriever implements triage.Retriever over the retrieval
// engine: alert summaries are matched against the indexed technique
// documents, and every confident hit becomes a retrieval-inferred tag.
type TechniqueRetriever struct {
	engine  *retrieval.Engine
	k       int
	timeout time.Duration
}

// NewTechniqueRetriever constructs a retriever that considers the top
// three matches per summary.
func NewTechniqueRetriever(engine *retrieval.Engine) *TechniqueRetriever {
	return &TechniqueRetriever{engine: engine, k: 3, timeout: defaultLookupTimeout}
}

// TechniquesFor implements triage.Retriever. A retrieval failure
// contributes no tags; the direct-tag and heuristic sources still apply.
func (t *TechniqueRetriever) TechniquesFor(summary string) []triage.TechniqueTag {
	if t.engine == nil || summary == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	results, err := t.engine.Query(ctx, retrieval.Query{
		Text:    summary,
		Filters: vectorstore.Filter{"doc_type": "attack_technique"},
		K:       t.k,
	})
	if err != nil {
		return nil
	}

	seen := make(map[string]bool, len(results))
	var tags []triage.TechniqueTag
	for _, r := range results {
		if r.Score <= 0 {
			continue
		}
		id := metaString(r.Metadata, "attack_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		tags = append(tags, triage.TechniqueTag{
			TechniqueID: id,
			Tactic:      metaString(r.Metadata, "tactic"),
			Source:      triage.SourceRetrievalInferred,
		})
	}
	return tags
}

// NewTriageAnalyst wires a triage analyst with retrieval-inferred tagging.
func NewTriageAnalyst(engine *retrieval.Engine) *triage.Analyst {
	return triage.New(NewTechniqueRetriever(engine))
}

// NewHypothesisAnalyst wires a hypothesis analyst with the cached
// technique-to-tactic resolver.
func NewHypothesisAnalyst(engine *retrieval.Engine) *hypothesis.Analyst {
	return hypothesis.New(NewTacticResolver(engine))
}
