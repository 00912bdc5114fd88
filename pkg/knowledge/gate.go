package knowledge

import (
	"context"
	"log"
	"sort"
	"strings"
)

// Answer sources reported to callers and counters.
const (
	SourceCorpus   = "corpus"
	SourceFallback = "fallback"
	SourceNoMatch  = "no_match"
)

const (
	noMatchAnswer = "I don't have information about that product. Please contact our customer service for details on products not listed in our standard catalog."

	fallbackAnswer = "I don't have specific information about that product in our current catalog. Our available products include credit cards, personal loans, home mortgages, auto loans, savings accounts, money market accounts, and CDs. Would you like to know about any of these?"
)

// Gate retrieves passages and refuses to answer from anything below the
// relevance threshold. The threshold is inclusive: a passage scoring exactly
// Threshold is kept.
type Gate struct {
	Retriever Retriever
	Threshold float64
}

// GateAnswer is the gated retrieval outcome. Answer is always non-empty.
type GateAnswer struct {
	Answer string
	Source string
}

func NewGate(r Retriever, threshold float64) *Gate {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &Gate{Retriever: r, Threshold: threshold}
}

// Lookup answers a product question from retrieved passages. Retrieval
// failures and empty result sets both produce the no-match answer rather
// than an error; the assistant never fabricates product facts.
func (g *Gate) Lookup(ctx context.Context, query string) GateAnswer {
	passages, err := g.Retriever.Retrieve(ctx, query)
	if err != nil {
		log.Printf("knowledge: retrieval failed: %v", err)
		return GateAnswer{Answer: noMatchAnswer, Source: SourceNoMatch}
	}
	if len(passages) == 0 {
		return GateAnswer{Answer: noMatchAnswer, Source: SourceNoMatch}
	}

	sorted := make([]Passage, len(passages))
	copy(sorted, passages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []string
	for _, p := range sorted {
		if p.Score >= g.Threshold {
			kept = append(kept, p.Text)
		}
	}
	if len(kept) == 0 {
		return GateAnswer{Answer: fallbackAnswer, Source: SourceFallback}
	}
	return GateAnswer{
		Answer: "Product Information:\n" + strings.Join(kept, "\n\n"),
		Source: SourceCorpus,
	}
}
