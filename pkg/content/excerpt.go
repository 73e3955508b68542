package content

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/philippgille/chromem-go"
)

// Candidate is one file's excerpt eligible for inclusion in the
// narrative prompt, ranked by its centrality score.
type Candidate struct {
	Path     string
	Excerpt  string
	Centrale float64 // fan-in + fan-out based centrality, for seeding order
}

// SelectDiverseExcerpts greedily picks excerpts that maximize pairwise
// diversity (spec.md §4.7: "selected to maximize diversity") subject to
// a total character budget, truncating each selected excerpt at
// maxExcerptChars. It uses chromem-go's in-memory vector collection as
// the similarity engine, embedded with a deterministic local hashing
// function rather than chromem-go's default API-backed embedder —
// diversity selection must stay offline and reproducible in tests, and
// the LLM gateway already owns every external model call in this
// system (see DESIGN.md). The returned embed-call count feeds
// token_budget.embed_calls.
func SelectDiverseExcerpts(ctx context.Context, candidates []Candidate, charBudget, maxExcerptChars int) ([]Candidate, int, error) {
	if len(candidates) == 0 || charBudget <= 0 {
		return nil, 0, nil
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Centrale > ordered[j].Centrale
	})

	var embedCalls int
	countingEmbed := func(ctx context.Context, text string) ([]float32, error) {
		embedCalls++
		return hashEmbeddingFunc(ctx, text)
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("excerpts", nil, countingEmbed)
	if err != nil {
		return nil, 0, fmt.Errorf("create excerpt collection: %w", err)
	}

	for _, c := range ordered {
		if err := collection.AddDocument(ctx, chromem.Document{
			ID:      c.Path,
			Content: c.Excerpt,
		}); err != nil {
			return nil, 0, fmt.Errorf("embed excerpt %s: %w", c.Path, err)
		}
	}

	byPath := make(map[string]Candidate, len(ordered))
	for _, c := range ordered {
		byPath[c.Path] = c
	}

	var selected []Candidate
	remaining := make(map[string]struct{}, len(ordered))
	for _, c := range ordered {
		remaining[c.Path] = struct{}{}
	}

	used := 0
	first := ordered[0]
	selected = append(selected, first)
	delete(remaining, first.Path)
	used += truncatedLen(first.Excerpt, maxExcerptChars)

	for used < charBudget && len(remaining) > 0 {
		next, err := mostDissimilar(ctx, collection, selected, remaining)
		if err != nil {
			return nil, 0, err
		}
		if next == "" {
			break
		}
		cand := byPath[next]
		cost := truncatedLen(cand.Excerpt, maxExcerptChars)
		if used+cost > charBudget {
			delete(remaining, next)
			continue
		}
		selected = append(selected, cand)
		delete(remaining, next)
		used += cost
	}

	for i := range selected {
		selected[i].Excerpt = truncate(selected[i].Excerpt, maxExcerptChars)
	}

	return selected, embedCalls, nil
}

// mostDissimilar queries the collection once per already-selected
// excerpt and returns the remaining candidate with the lowest maximum
// similarity to anything already picked — a maximal-marginal-relevance
// style diversity step.
func mostDissimilar(ctx context.Context, collection *chromem.Collection, selected []Candidate, remaining map[string]struct{}) (string, error) {
	maxSim := make(map[string]float32, len(remaining))
	for path := range remaining {
		maxSim[path] = -1
	}

	n := collection.Count()
	for _, s := range selected {
		results, err := collection.Query(ctx, s.Excerpt, n, nil, nil)
		if err != nil {
			return "", fmt.Errorf("query excerpt collection: %w", err)
		}
		for _, r := range results {
			if _, ok := remaining[r.ID]; !ok {
				continue
			}
			if r.Similarity > maxSim[r.ID] {
				maxSim[r.ID] = r.Similarity
			}
		}
	}

	bestScore := float32(math.MaxFloat32)
	var best string
	for path := range remaining {
		if maxSim[path] < bestScore {
			bestScore = maxSim[path]
			best = path
		}
	}
	return best, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func truncatedLen(s string, max int) int {
	if max <= 0 || len(s) <= max {
		return len(s)
	}
	return max
}

// hashEmbeddingFunc is a deterministic, offline bag-of-words embedder:
// it hashes each token into one of a fixed number of buckets and
// normalizes the resulting vector. It is good enough to separate
// excerpts by vocabulary overlap for diversity ranking without calling
// out to any embedding API.
func hashEmbeddingFunc(_ context.Context, text string) ([]float32, error) {
	const dims = 128
	vec := make([]float32, dims)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
