package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pressgraph/evc/internal/types"
)

// ClusterDecision is the arbitration result for one same-day cluster: either
// the cluster is one real event (with its best canonical name), or it must be
// split into the proposed groups. RawResponse carries the unparsed model
// output for logging; it is never written to the store.
type ClusterDecision struct {
	SingleEvent   bool                 `json:"single_event"`
	CanonicalName string               `json:"canonical_name"`
	Groups        []EventGroupProposal `json:"groups,omitempty"`
	Confidence    float64              `json:"confidence"`
	Reasoning     string               `json:"reasoning"`
	RawResponse   string               `json:"-"`
}

// EventGroupProposal names one sub-group of a split cluster
type EventGroupProposal struct {
	CanonicalName string   `json:"canonical_name"`
	MemberNames   []string `json:"member_names"`
}

// Validate checks the decision against the cluster it describes. A failure
// here means the response is malformed and the caller must fall back to
// accepting the cluster unsplit; unvalidated external output never mutates
// the store.
func (d *ClusterDecision) Validate(cluster *types.EventCluster) error {
	if d.Confidence < 0.0 || d.Confidence > 1.0 {
		return fmt.Errorf("invalid confidence score: %.2f (must be 0.0-1.0)", d.Confidence)
	}
	if d.SingleEvent {
		if strings.TrimSpace(d.CanonicalName) == "" {
			return fmt.Errorf("single-event decision is missing a canonical name")
		}
		return nil
	}

	if len(d.Groups) < 2 {
		return fmt.Errorf("split decision proposes %d groups (need at least 2)", len(d.Groups))
	}

	known := make(map[string]bool, len(cluster.MemberNames))
	for _, n := range cluster.MemberNames {
		known[n] = true
	}
	assigned := make(map[string]string)
	for i, g := range d.Groups {
		if strings.TrimSpace(g.CanonicalName) == "" {
			return fmt.Errorf("group %d is missing a canonical name", i)
		}
		if len(g.MemberNames) == 0 {
			return fmt.Errorf("group %q has no members", g.CanonicalName)
		}
		for _, m := range g.MemberNames {
			if !known[m] {
				return fmt.Errorf("group %q references unknown member name %q", g.CanonicalName, m)
			}
			if prev, ok := assigned[m]; ok {
				return fmt.Errorf("member name %q assigned to both %q and %q", m, prev, g.CanonicalName)
			}
			assigned[m] = g.CanonicalName
		}
	}
	for n := range known {
		if _, ok := assigned[n]; !ok {
			return fmt.Errorf("member name %q not assigned to any group", n)
		}
	}
	return nil
}

// GroupDecision is the arbitration result for one master/child group: either
// the grouping is confirmed as one real event (possibly under a better name),
// or the listed sub-groups must be split off under new masters.
type GroupDecision struct {
	Confirmed     bool            `json:"confirmed"`
	CanonicalName string          `json:"canonical_name"`
	Splits        []SplitProposal `json:"splits,omitempty"`
	Confidence    float64         `json:"confidence"`
	Reasoning     string          `json:"reasoning"`
	RawResponse   string          `json:"-"`
}

// SplitProposal carves one sub-group off an over-merged master
type SplitProposal struct {
	CanonicalName string   `json:"canonical_name"`
	MemberIDs     []string `json:"member_ids"`
}

// Validate checks the decision against the group it describes. A failure
// means the response is malformed and the caller leaves the group's master
// references unchanged (implicit "confirmed, no rename").
func (d *GroupDecision) Validate(master *types.CanonicalEvent, children []*types.CanonicalEvent) error {
	if d.Confidence < 0.0 || d.Confidence > 1.0 {
		return fmt.Errorf("invalid confidence score: %.2f (must be 0.0-1.0)", d.Confidence)
	}
	if d.Confirmed {
		if strings.TrimSpace(d.CanonicalName) == "" {
			return fmt.Errorf("confirmation is missing a canonical name")
		}
		return nil
	}

	if len(d.Splits) == 0 {
		return fmt.Errorf("split decision proposes no sub-groups")
	}

	childIDs := make(map[string]bool, len(children))
	for _, c := range children {
		childIDs[c.ID] = true
	}
	assigned := make(map[string]string)
	for i, sp := range d.Splits {
		if strings.TrimSpace(sp.CanonicalName) == "" {
			return fmt.Errorf("split %d is missing a canonical name", i)
		}
		if len(sp.MemberIDs) == 0 {
			return fmt.Errorf("split %q has no members", sp.CanonicalName)
		}
		for _, id := range sp.MemberIDs {
			if id == master.ID {
				// The master keeps the remaining members; it can never
				// be carved off its own group.
				return fmt.Errorf("split %q includes the group master %s", sp.CanonicalName, id)
			}
			if !childIDs[id] {
				return fmt.Errorf("split %q references unknown member id %s", sp.CanonicalName, id)
			}
			if prev, ok := assigned[id]; ok {
				return fmt.Errorf("member %s assigned to both %q and %q", id, prev, sp.CanonicalName)
			}
			assigned[id] = sp.CanonicalName
		}
	}
	return nil
}

// ReviewCluster asks the arbitration provider whether a same-day cluster is
// one real event or several
func (s *Supervisor) ReviewCluster(ctx context.Context, cluster *types.EventCluster) (*ClusterDecision, error) {
	prompt := buildClusterReviewPrompt(cluster)

	responseText, err := s.CallAI(ctx, prompt, "cluster_review", 2000)
	if err != nil {
		return nil, fmt.Errorf("cluster review failed: %w", err)
	}

	parseResult := Parse[ClusterDecision](responseText, ParseOptions{Context: "cluster review response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("failed to parse cluster review response: %s (response: %s)",
			parseResult.Error, truncate(responseText, 200))
	}

	decision := parseResult.Data
	decision.RawResponse = responseText
	if err := decision.Validate(cluster); err != nil {
		return nil, fmt.Errorf("cluster review response failed validation: %w (response: %s)",
			err, truncate(responseText, 200))
	}
	return &decision, nil
}

// ReviewEventGroup asks the arbitration provider to confirm or split one
// master/child group
func (s *Supervisor) ReviewEventGroup(ctx context.Context, master *types.CanonicalEvent, children []*types.CanonicalEvent) (*GroupDecision, error) {
	prompt := buildGroupReviewPrompt(master, children)

	responseText, err := s.CallAI(ctx, prompt, "group_review", 2000)
	if err != nil {
		return nil, fmt.Errorf("group review failed: %w", err)
	}

	parseResult := Parse[GroupDecision](responseText, ParseOptions{Context: "group review response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("failed to parse group review response: %s (response: %s)",
			parseResult.Error, truncate(responseText, 200))
	}

	decision := parseResult.Data
	decision.RawResponse = responseText
	if err := decision.Validate(master, children); err != nil {
		return nil, fmt.Errorf("group review response failed validation: %w (response: %s)",
			err, truncate(responseText, 200))
	}
	return &decision, nil
}

// nameCount pairs a distinct member name with its mention frequency
type nameCount struct {
	name  string
	count int
}

// distinctNameCounts returns the cluster's member names with frequencies,
// most frequent first (stable for equal counts)
func distinctNameCounts(cluster *types.EventCluster) []nameCount {
	counts := make(map[string]int)
	var order []string
	for _, n := range cluster.MemberNames {
		if counts[n] == 0 {
			order = append(order, n)
		}
		counts[n]++
	}
	out := make([]nameCount, 0, len(order))
	for _, n := range order {
		out = append(out, nameCount{name: n, count: counts[n]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

func buildClusterReviewPrompt(cluster *types.EventCluster) string {
	var names strings.Builder
	for _, nc := range distinctNameCounts(cluster) {
		fmt.Fprintf(&names, "- %q (mentioned %d time(s))\n", nc.name, nc.count)
	}

	return fmt.Sprintf(`You are reviewing a cluster of event descriptions extracted from news documents.

All descriptions below were published in %s on %s and were grouped together
by embedding similarity. Supporting documents: %d.

EVENT DESCRIPTIONS:
%s
TASK:
Decide whether these descriptions all refer to ONE real-world event, or
whether the cluster mixes several distinct events that similarity merged
incorrectly.

IMPORTANT GUIDELINES:
1. Different wording for the same happening is ONE event ("Flood relief in
   Sindh" vs "Sindh flood aid distribution")
2. Same activity at clearly different places or occasions is SEPARATE events
3. When splitting, every description must land in exactly one group
4. Pick the clearest, most specific name as the canonical name for each group

OUTPUT FORMAT (JSON only, no markdown):
{
  "single_event": boolean,
  "canonical_name": "best name when single_event is true",
  "groups": [
    {"canonical_name": "name", "member_names": ["description", ...]}
  ],
  "confidence": float (0.0-1.0),
  "reasoning": "Brief explanation"
}

When single_event is true, omit "groups". When false, provide at least two
groups covering every description exactly once.

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`,
		cluster.Country, cluster.Date.Format(types.DateFormat),
		len(types.UniqueStrings(cluster.DocumentIDs)), names.String())
}

func buildGroupReviewPrompt(master *types.CanonicalEvent, children []*types.CanonicalEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `You are validating a group of candidate duplicate events from %s.

Cross-date similarity grouping decided the events below all describe the same
real-world happening. The first entry is the proposed master.

MASTER:
ID: %s
Name: %s
Mention window: %s to %s (%d day(s), %d document(s))
`,
		master.Country, master.ID, master.Name,
		master.FirstDate.Format(types.DateFormat), master.LastDate.Format(types.DateFormat),
		master.MentionDays, master.TotalDocuments)

	if len(master.AltNames) > 0 {
		fmt.Fprintf(&sb, "Also known as: %s\n", strings.Join(master.AltNames, "; "))
	}

	sb.WriteString("\nGROUP MEMBERS:\n")
	for i, c := range children {
		fmt.Fprintf(&sb, "[%d] ID: %s\n    Name: %s\n    Window: %s to %s (%d document(s))\n",
			i+1, c.ID, c.Name,
			c.FirstDate.Format(types.DateFormat), c.LastDate.Format(types.DateFormat),
			c.TotalDocuments)
	}

	sb.WriteString(`
TASK:
Decide whether master and members all describe ONE real-world event.

IMPORTANT GUIDELINES:
1. A multi-day happening reported across many dates is ONE event
2. Recurring but distinct occasions (separate incidents, separate ceremonies)
   are SEPARATE events even when the names are near-identical
3. On confirmation, choose or synthesize the best canonical name for the
   whole group
4. On split, list the member IDs to carve off; members you do not list stay
   with the master. Never include the master's own ID in a split.

OUTPUT FORMAT (JSON only, no markdown):
{
  "confirmed": boolean,
  "canonical_name": "best name when confirmed is true",
  "splits": [
    {"canonical_name": "name for the split-off event", "member_ids": ["id", ...]}
  ],
  "confidence": float (0.0-1.0),
  "reasoning": "Brief explanation"
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences.`)

	return sb.String()
}
