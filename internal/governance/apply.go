package governance

import (
	"context"
	"fmt"

	"github.com/Doitordead/Intel-irris/internal/reconcile"
)

type entitySource interface {
	Entity() reconcile.Entity
}

type pairSource interface {
	Pair() reconcile.Pair
}

func entities[T entitySource](records []T) []reconcile.Entity {
	out := make([]reconcile.Entity, 0, len(records))
	for _, r := range records {
		out = append(out, r.Entity())
	}
	return out
}

func pairs[T pairSource](records []T) []reconcile.Pair {
	out := make([]reconcile.Pair, 0, len(records))
	for _, r := range records {
		out = append(out, r.Pair())
	}
	return out
}

// Apply reconciles the snapshot: entity tables parents first, then the
// relations, then deletions children first. Users and licenses are never
// deleted. Apply returns the deletion queue as it stood when an error
// stopped the run, or an empty queue on success.
func (s *Snapshot) Apply(ctx context.Context, r *reconcile.Reconciler) (*reconcile.DeletionQueue, error) {
	queue := &reconcile.DeletionQueue{}

	if _, err := r.SyncEntities(ctx, TableUsers, entities(s.Users)); err != nil {
		return queue, fmt.Errorf("sync users: %w", err)
	}
	if len(s.Licenses) > 0 {
		if _, err := r.SyncEntities(ctx, TableLicenses, entities(s.Licenses)); err != nil {
			return queue, fmt.Errorf("sync licenses: %w", err)
		}
	}

	steps := []struct {
		table string
		rows  []reconcile.Entity
	}{
		{TableDomains, entities(s.Domains)},
		{TableSubdomains, entities(s.Subdomains)},
		{TableDomainRoles, entities(s.DomainRoles)},
		{TableSubdomainRoles, entities(s.SubdomainRoles)},
		{TableGitTrees, entities(s.Trees)},
		{TableGitTreeRoles, entities(s.TreeRoles)},
		{TableUserParties, entities(s.Parties)},
	}
	for _, step := range steps {
		pending, err := r.SyncEntities(ctx, step.table, step.rows)
		if err != nil {
			return queue, fmt.Errorf("sync %s: %w", step.table, err)
		}
		queue.Push(pending)
	}

	relations := []struct {
		name  string
		pairs []reconcile.Pair
	}{
		{RelDomainRoleUsers, pairs(s.DomainRoleUsers)},
		{RelSubdomainRoleUsers, pairs(s.SubdomainRoleUsers)},
		{RelGitTreeLicenses, pairs(s.TreeLicenses)},
		{RelGitTreeRoleUsers, pairs(s.TreeRoleUsers)},
		{RelUserPartyUsers, pairs(s.PartyUsers)},
	}
	for _, rel := range relations {
		if err := r.SyncRelation(ctx, rel.name, rel.pairs); err != nil {
			return queue, fmt.Errorf("sync %s: %w", rel.name, err)
		}
	}

	if err := queue.Flush(ctx, r); err != nil {
		return queue, fmt.Errorf("apply deletions: %w", err)
	}
	return queue, nil
}
