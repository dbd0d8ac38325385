package retrieval

import (
	"context"
	"fmt"

	"github.com/sentorproj/sentor/pkg/vectorstore"
)

// widen retries q with filters dropped when the filtered query came back
// empty: first with the strict metadata filter, then free-text.
func (e *Engine) widen(ctx context.Context, q Query) ([]Result, error) {
	results, err := e.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 || len(q.Filters) == 0 {
		return results, nil
	}
	q.Filters = nil
	return e.Query(ctx, q)
}

// QueryByAttackTechnique retrieves context for one ATT&CK technique ID.
func (e *Engine) QueryByAttackTechnique(ctx context.Context, techniqueID string, k int) ([]Result, error) {
	return e.widen(ctx, Query{
		Text:    fmt.Sprintf("ATT&CK technique %s", techniqueID),
		Filters: vectorstore.Filter{"attack_id": techniqueID},
		K:       k,
	})
}

// QueryByCVE retrieves context for one CVE identifier.
func (e *Engine) QueryByCVE(ctx context.Context, cveID string, k int) ([]Result, error) {
	return e.widen(ctx, Query{
		Text:    fmt.Sprintf("vulnerability %s", cveID),
		Filters: vectorstore.Filter{"cve_id": cveID},
		K:       k,
	})
}

// QueryForDetectionRules retrieves Sigma rules relevant to a free-text
// description of suspicious behavior.
func (e *Engine) QueryForDetectionRules(ctx context.Context, behaviorText string, k int) ([]Result, error) {
	return e.widen(ctx, Query{
		Text:    behaviorText,
		Filters: vectorstore.Filter{"doc_type": "sigma_rule"},
		K:       k,
	})
}

// QueryForVulnerabilities retrieves CVE/KEV context for an affected product
// or software description.
func (e *Engine) QueryForVulnerabilities(ctx context.Context, productText string, k int) ([]Result, error) {
	results, err := e.widen(ctx, Query{
		Text:    productText,
		Filters: vectorstore.Filter{"doc_type": "cve"},
		K:       k,
	})
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}
	return e.widen(ctx, Query{
		Text:    productText,
		Filters: vectorstore.Filter{"doc_type": "cisa_kev"},
		K:       k,
	})
}

// ExplainAttackChain retrieves tactic/technique context for a candidate
// attack-chain ordering, concatenating per-step queries into one ranked set.
func (e *Engine) ExplainAttackChain(ctx context.Context, techniqueIDs []string, k int) ([]Result, error) {
	var all []Result
	for _, id := range techniqueIDs {
		results, err := e.QueryByAttackTechnique(ctx, id, k)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}
	return all, nil
}

// FindRelatedTechniques retrieves techniques related to a given one by
// free-text similarity over the indexed techniques (tactic/mitigation text
// tends to co-occur with related techniques in the curated documents).
func (e *Engine) FindRelatedTechniques(ctx context.Context, techniqueID string, k int) ([]Result, error) {
	return e.widen(ctx, Query{
		Text:    fmt.Sprintf("techniques related to %s", techniqueID),
		Filters: vectorstore.Filter{"doc_type": "attack_technique"},
		K:       k,
	})
}
