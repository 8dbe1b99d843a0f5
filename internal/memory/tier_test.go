package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freshair129/agentic-agent/internal/fault"
)

func TestTierReachability(t *testing.T) {
	assert.True(t, TierReachable(TierSession, TierCore))
	assert.True(t, TierReachable(TierCore, TierSphere))
	assert.True(t, TierReachable(TierSphere, TierCore))

	assert.False(t, TierReachable(TierSphere, TierSession))
	assert.False(t, TierReachable(TierCore, TierSession))
	assert.False(t, TierReachable(TierSession, TierSphere))
}

func TestSphereCannotMoveToSession(t *testing.T) {
	f := setup(t)
	id := f.seed(t, TierSphere, Entry{Domain: DomainKnowledge, State: StateConfirmed, Confidence: 0.9, Content: "water boils at 100C"})
	_, err := f.gov.enqueue(context.Background(), promote{EntryID: id, To: TierSession})
	require.ErrorIs(t, err, fault.ErrValidation)
	assert.Equal(t, TierSphere, f.get(t, id).Tier)
}

func TestSafetyPromotionNeedsExternalConfirmation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.seed(t, TierSession, Entry{Domain: DomainSafety, State: StateConfirmed, Confidence: 0.95, Content: "carries an epinephrine pen"})
	f.submit(t, Hits{EntryIDs: []string{id, id, id}})

	report, err := f.gov.RunDistillation(ctx, TierCore)
	require.NoError(t, err)
	assert.Empty(t, report.Promoted)
	assert.Contains(t, report.Skipped[id], "external confirmation")

	f.submit(t, ExternalConfirmation{EntryID: id, ExpectedRevision: 1, Source: "medical record"})
	report, err = f.gov.RunDistillation(ctx, TierCore)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Promoted)
	assert.Equal(t, TierCore, f.get(t, id).Tier)

	_, err = f.gov.Commit(ctx, TierCore, Entry{Domain: DomainSafety, Content: "no peanuts", Confidence: 0.9})
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestPromotedEntriesAreWriteOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	obs := f.submit(t, Observation{Domain: DomainKnowledge, Content: "office is on the fourth floor", Confidence: 0.75, Tags: []string{"office", "floor"}})
	id := obs.EntryID
	f.submit(t, Corroboration{EntryID: id, ExpectedRevision: 1, Evidence: "badge log"})
	assert.Equal(t, StateHypothesis, f.get(t, id).State)
	f.submit(t, Corroboration{EntryID: id, ExpectedRevision: 2, Evidence: "floor plan"})
	assert.Equal(t, StateConfirmed, f.get(t, id).State)
	f.submit(t, Hits{EntryIDs: []string{id, id}})

	report, err := f.gov.RunDistillation(ctx, TierCore)
	require.NoError(t, err)
	require.Equal(t, []string{id}, report.Promoted)
	core := f.get(t, id)
	assert.Equal(t, TierCore, core.Tier)
	assert.Equal(t, int64(4), core.Revision)

	d := f.submit(t, Corroboration{EntryID: id, ExpectedRevision: 4, Evidence: "receptionist"})
	require.NotEqual(t, id, d.EntryID, "change to a promoted entry creates a new version")

	old := f.get(t, id)
	assert.InDelta(t, core.Confidence, old.Confidence, 1e-12)
	assert.Equal(t, 2, old.Corroborations)

	head := f.get(t, d.EntryID)
	assert.Equal(t, id, head.Supersedes)
	assert.Equal(t, id, head.Root)
	assert.Equal(t, 2, head.Version)
	assert.Equal(t, 3, head.Corroborations)
	assert.Equal(t, 2, head.HitCount)

	lineage, err := f.store.Lineage(d.EntryID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, id, lineage[0].ID)

	_, err = f.gov.Submit(ctx, Corroboration{EntryID: id, ExpectedRevision: 4, Evidence: "security desk"})
	require.ErrorIs(t, err, fault.ErrTransactionAbort, "superseded versions cannot be changed")

	_, err = f.store.DB().Exec(`UPDATE memory_entries SET content = 'basement' WHERE id = ?`, d.EntryID)
	require.Error(t, err)
	_, err = f.store.DB().Exec(`DELETE FROM memory_entries WHERE id = ?`, id)
	require.Error(t, err)

	f.submit(t, Hits{EntryIDs: []string{id}})
	assert.Equal(t, 3, f.get(t, d.EntryID).HitCount, "hits on an old version count toward the head")

	edges, err := f.graph.Neighbors("office", 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "floor", edges[0].Target)
}

func TestRepeatedContradictionDemotesSphereEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.seed(t, TierSphere, Entry{Domain: DomainKnowledge, State: StateConfirmed, Confidence: 0.9, Content: "team standup is at nine", Subject: "standup-time", Polarity: 1})

	f.submit(t, Observation{Domain: DomainKnowledge, Content: "standup moved to ten", Subject: "standup-time", Polarity: -1, Confidence: 0.6})
	head, err := f.store.Head(id)
	require.NoError(t, err)
	assert.Equal(t, StateContested, head.State)
	assert.Equal(t, TierSphere, head.Tier)
	assert.Equal(t, 2, head.Version)

	report, err := f.gov.RunDistillation(ctx, TierSphere)
	require.NoError(t, err)
	assert.Empty(t, report.Demoted, "one contestation is not enough")

	f.submit(t, Observation{Domain: DomainKnowledge, Content: "standup happens at ten now", Subject: "standup-time", Polarity: -1, Confidence: 0.6})
	report, err = f.gov.RunDistillation(ctx, TierSphere)
	require.NoError(t, err)
	require.Len(t, report.Demoted, 1)

	head, err = f.store.Head(id)
	require.NoError(t, err)
	assert.Equal(t, TierCore, head.Tier)
	assert.Equal(t, report.Demoted[0], head.ID)
	assert.Equal(t, StateContested, head.State)

	original := f.get(t, id)
	assert.Equal(t, TierSphere, original.Tier)
	assert.InDelta(t, 0.9, original.Confidence, 1e-12)

	_, err = f.gov.RunDistillation(ctx, TierSession)
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestQueryByDomain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, TierCore, Entry{Domain: DomainIdentity, Content: "name is Ada", Confidence: 0.9})
	f.seed(t, TierSession, Entry{Domain: DomainIdentity, Content: "lives in Lisbon", Confidence: 0.4})
	f.seed(t, TierSession, Entry{Domain: DomainMeta, Content: "prefers bullet points", Confidence: 0.8})

	all, err := f.gov.QueryByDomain(ctx, DomainIdentity, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "name is Ada", all[0].Content)
	assert.Equal(t, StateConfirmed, all[0].State)

	core, err := f.gov.QueryByDomain(ctx, DomainIdentity, Filter{Tiers: []Tier{TierCore}})
	require.NoError(t, err)
	assert.Len(t, core, 1)

	confident, err := f.gov.QueryByDomain(ctx, DomainIdentity, Filter{MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, confident, 1)

	_, err = f.gov.QueryByDomain(ctx, "gossip", Filter{})
	require.ErrorIs(t, err, fault.ErrValidation)
}
