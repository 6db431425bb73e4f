package main

import "sort"

// AggregateRankings merges the parsed Stage 2 orders into one consensus
// ordering. A label's position is its 1-based index within a rater's list;
// raters that omitted a model contribute nothing for it, and models no rater
// ranked are left out entirely rather than given a made-up position. The
// result is sorted ascending by average position, ties broken by vote count
// descending, then by Stage 1 emission order so equal inputs always produce
// the same output.
func AggregateRankings(submissions []RankingSubmission, labelToModel map[string]string, stage1Order []string) []AggregateRanking {
	// Collect every position each model received.
	modelPositions := make(map[string][]int)
	for _, submission := range submissions {
		for index, label := range submission.ParsedOrder {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			modelPositions[model] = append(modelPositions[model], index+1)
		}
	}

	orderIndex := make(map[string]int, len(stage1Order))
	for i, model := range stage1Order {
		orderIndex[model] = i
	}

	aggregate := make([]AggregateRanking, 0, len(modelPositions))
	for model, positions := range modelPositions {
		sum := 0
		for _, position := range positions {
			sum += position
		}
		aggregate = append(aggregate, AggregateRanking{
			Model:           model,
			AveragePosition: float64(sum) / float64(len(positions)),
			Votes:           len(positions),
		})
	}

	sort.Slice(aggregate, func(i, j int) bool {
		if aggregate[i].AveragePosition != aggregate[j].AveragePosition {
			return aggregate[i].AveragePosition < aggregate[j].AveragePosition
		}
		if aggregate[i].Votes != aggregate[j].Votes {
			return aggregate[i].Votes > aggregate[j].Votes
		}
		return orderIndex[aggregate[i].Model] < orderIndex[aggregate[j].Model]
	})

	return aggregate
}
