// Package evaluation computes trec-style rank-quality metrics from predicted
// rankings and ground-truth relevance judgments.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"retrieval-orchestrator/internal/domain"
)

// MetricReport holds the averaged metrics, one entry per cutoff, labeled
// "NDCG@k", "MAP@k", "Recall@k" and "P@k". Values are rounded to 5 decimals.
type MetricReport struct {
	NDCG      map[string]float64
	MAP       map[string]float64
	Recall    map[string]float64
	Precision map[string]float64
}

// Evaluate scores the predicted rankings against qrels at every cutoff in
// kValues and averages each metric over the scored queries.
//
// Queries present in results but absent from qrels are excluded from scoring
// entirely, not scored as zero. With ignoreIdenticalIDs set, a document id
// equal to its query id is removed from that query's ranking before scoring
// (self-match exclusion). The inputs are never mutated.
//
// Returns domain.ErrEmptyEvaluation when no queries remain after filtering.
func Evaluate(qrels domain.Qrels, results domain.RankingResult, kValues []int, ignoreIdenticalIDs bool) (*MetricReport, error) {
	if len(kValues) == 0 {
		return nil, fmt.Errorf("no cutoff values given")
	}

	scored := 0
	sums := newMetricSums(kValues)
	for queryID := range results {
		judged, ok := qrels[queryID]
		if !ok {
			continue
		}
		ranked := rankedDocs(queryID, results[queryID], ignoreIdenticalIDs)
		for _, k := range kValues {
			sums.ndcg[k] += ndcgAt(judged, ranked, k)
			sums.ap[k] += averagePrecisionAt(judged, ranked, k)
			sums.recall[k] += recallAt(judged, ranked, k)
			sums.precision[k] += precisionAt(judged, ranked, k)
		}
		scored++
	}

	if scored == 0 {
		return nil, domain.ErrEmptyEvaluation
	}

	report := &MetricReport{
		NDCG:      make(map[string]float64, len(kValues)),
		MAP:       make(map[string]float64, len(kValues)),
		Recall:    make(map[string]float64, len(kValues)),
		Precision: make(map[string]float64, len(kValues)),
	}
	n := float64(scored)
	for _, k := range kValues {
		report.NDCG[fmt.Sprintf("NDCG@%d", k)] = round5(sums.ndcg[k] / n)
		report.MAP[fmt.Sprintf("MAP@%d", k)] = round5(sums.ap[k] / n)
		report.Recall[fmt.Sprintf("Recall@%d", k)] = round5(sums.recall[k] / n)
		report.Precision[fmt.Sprintf("P@%d", k)] = round5(sums.precision[k] / n)
	}
	return report, nil
}

type metricSums struct {
	ndcg, ap, recall, precision map[int]float64
}

func newMetricSums(kValues []int) metricSums {
	s := metricSums{
		ndcg:      make(map[int]float64, len(kValues)),
		ap:        make(map[int]float64, len(kValues)),
		recall:    make(map[int]float64, len(kValues)),
		precision: make(map[int]float64, len(kValues)),
	}
	for _, k := range kValues {
		s.ndcg[k] = 0
		s.ap[k] = 0
		s.recall[k] = 0
		s.precision[k] = 0
	}
	return s
}

// rankedDocs orders a query's predicted documents by descending score with
// descending doc id as tie-break, so scoring is invariant to map iteration
// order.
func rankedDocs(queryID string, docs map[string]float64, ignoreIdenticalIDs bool) []string {
	type scoredDoc struct {
		id    string
		score float64
	}
	ranked := make([]scoredDoc, 0, len(docs))
	for id, score := range docs {
		if ignoreIdenticalIDs && id == queryID {
			continue
		}
		ranked = append(ranked, scoredDoc{id: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id > ranked[j].id
	})
	ids := make([]string, len(ranked))
	for i, d := range ranked {
		ids[i] = d.id
	}
	return ids
}

// ndcgAt computes NDCG@k with linear graded gain and 1/log2(rank+1) discount.
// The ideal DCG normalizes over the top-k of the true relevance ordering.
func ndcgAt(judged map[string]int, ranked []string, k int) float64 {
	dcg := 0.0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if grade, ok := judged[id]; ok && grade > 0 {
			dcg += float64(grade) / math.Log2(float64(i)+2)
		}
	}

	grades := make([]int, 0, len(judged))
	for _, grade := range judged {
		if grade > 0 {
			grades = append(grades, grade)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(grades)))

	idcg := 0.0
	for i, grade := range grades {
		if i >= k {
			break
		}
		idcg += float64(grade) / math.Log2(float64(i)+2)
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// averagePrecisionAt sums precision at every relevant rank within the top k
// and divides by the total number of relevant documents for the query.
func averagePrecisionAt(judged map[string]int, ranked []string, k int) float64 {
	totalRelevant := relevantCount(judged)
	if totalRelevant == 0 {
		return 0
	}
	hits := 0
	sum := 0.0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if grade, ok := judged[id]; ok && grade > 0 {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	return sum / float64(totalRelevant)
}

func recallAt(judged map[string]int, ranked []string, k int) float64 {
	totalRelevant := relevantCount(judged)
	if totalRelevant == 0 {
		return 0
	}
	return float64(retrievedRelevant(judged, ranked, k)) / float64(totalRelevant)
}

func precisionAt(judged map[string]int, ranked []string, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(retrievedRelevant(judged, ranked, k)) / float64(k)
}

func retrievedRelevant(judged map[string]int, ranked []string, k int) int {
	hits := 0
	for i, id := range ranked {
		if i >= k {
			break
		}
		if grade, ok := judged[id]; ok && grade > 0 {
			hits++
		}
	}
	return hits
}

func relevantCount(judged map[string]int) int {
	n := 0
	for _, grade := range judged {
		if grade > 0 {
			n++
		}
	}
	return n
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
