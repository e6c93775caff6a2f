package moe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// tally accumulates the weighted votes cast for one intent.
type tally struct {
	weightSum  float64
	confSum    float64
	confWeight float64
	count      int
}

func (t *tally) meanConfidence() float64 {
	if t.confWeight == 0 {
		return 0
	}
	return t.confSum / t.confWeight
}

// CalculateConsensus aggregates a round's votes deterministically: the same
// vote multiset always yields the same consensus. The winner is the intent
// with the greatest weighted vote sum; ties break by higher mean confidence,
// then alphabetically by intent id.
func CalculateConsensus(votes []Vote) *Consensus {
	valid := make([]Vote, 0, len(votes))
	for _, v := range votes {
		if v.Valid() {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return &Consensus{
			Agreement:  AgreementFailed,
			TotalVotes: len(votes),
			Method:     "weighted_vote",
			Reasoning:  "no valid votes",
		}
	}

	tallies := make(map[string]*tally)
	for _, v := range valid {
		t, ok := tallies[v.Intent]
		if !ok {
			t = &tally{}
			tallies[v.Intent] = t
		}
		t.weightSum += v.Weight
		t.confSum += v.Confidence * v.Weight
		t.confWeight += v.Weight
		t.count++
	}

	intents := make([]string, 0, len(tallies))
	for id := range tallies {
		intents = append(intents, id)
	}
	sort.Strings(intents)

	winner := ""
	for _, id := range intents {
		if winner == "" {
			winner = id
			continue
		}
		cur, best := tallies[id], tallies[winner]
		switch {
		case cur.weightSum > best.weightSum:
			winner = id
		case cur.weightSum == best.weightSum && cur.meanConfidence() > best.meanConfidence():
			winner = id
			// equal on both: alphabetical order already favors the earlier id
		}
	}
	win := tallies[winner]

	agreement := AgreementPlurality
	switch {
	case len(tallies) == 1:
		agreement = AgreementUnanimous
	case float64(win.count) > float64(len(valid))/2:
		agreement = AgreementMajority
	case len(tallies) == len(valid):
		// Every valid vote named a distinct intent.
		agreement = AgreementSplit
	}

	winning := make([]Vote, 0, win.count)
	for _, v := range valid {
		if v.Intent == winner {
			winning = append(winning, v)
		}
	}

	return &Consensus{
		FinalIntent:        winner,
		Confidence:         win.meanConfidence(),
		Agreement:          agreement,
		ParticipatingVotes: len(valid),
		TotalVotes:         len(votes),
		Method:             "weighted_vote",
		Reasoning:          consensusReasoning(winner, win.count, len(valid), agreement),
		Entities:           mergeEntities(winning),
		Subtasks:           mergeSubtasks(winning),
	}
}

func consensusReasoning(winner string, count, valid int, agreement AgreementLevel) string {
	return fmt.Sprintf("%s chosen by %d/%d valid votes (%s)", winner, count, valid, agreement)
}

// mergeEntities keeps the highest-confidence entity per type across the
// winning votes, ordered by type for determinism.
func mergeEntities(winning []Vote) []types.Entity {
	merged := map[string]types.Entity{}
	for _, v := range winning {
		for _, ent := range v.Entities {
			if prev, ok := merged[ent.Type]; !ok || ent.Confidence > prev.Confidence {
				merged[ent.Type] = ent
			}
		}
	}
	out := make([]types.Entity, 0, len(merged))
	for _, ent := range merged {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// mergeSubtasks unions the winning votes' proposals, deduplicated by action
// and canonicalized entities.
func mergeSubtasks(winning []Vote) []ProposedSubtask {
	seen := map[string]bool{}
	var out []ProposedSubtask
	for _, v := range winning {
		for _, st := range v.Subtasks {
			key := subtaskKey(st)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, st)
		}
	}
	return out
}

func subtaskKey(st ProposedSubtask) string {
	keys := make([]string, 0, len(st.Entities))
	for k := range st.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(st.Action)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%s", k, strings.ToLower(strings.TrimSpace(st.Entities[k])))
	}
	return sb.String()
}
