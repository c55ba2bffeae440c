package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool/testenv"
	"github.com/elderproject/elder-worker/pkg/domain"
	kdb "github.com/elderproject/elder-worker/pkg/domain/entity/db"
	kpgent "github.com/elderproject/elder-worker/pkg/domain/entity/db/postgres"
	"github.com/elderproject/elder-worker/pkg/utils/try"
)

func vm(id, scope string) domain.Resource {
	return domain.Resource{
		ExternalID: id,
		Kind:       domain.KindEntity,
		Type:       "vm",
		Name:       "vm " + id,
		Scope:      scope,
		Attributes: map[string]any{"state": "running", "cpus": float64(2)},
		Tags:       map[string]string{"team": "infra"},
	}
}

func ids(stored []kdb.Stored) []string {
	out := []string{}
	for _, s := range stored {
		out = append(out, s.ExternalID)
	}
	return out
}

func TestEntity_UpsertBatch(t *testing.T) {
	ctx := context.Background()
	poolBroker := testenv.NewPoolBroker(ctx, t)
	owner := kdb.Owner{OrganizationID: 1, JobID: 10, Provider: domain.ProviderAWS}

	t.Run("running the same payload twice converges", func(t *testing.T) {
		pool := poolBroker.GetPool(ctx, t)
		testee := kpgent.New(pool)

		payload := []domain.Resource{
			vm("i-1", "r1"), vm("i-2", "r1"),
			{ExternalID: "vpc-1", Kind: domain.KindNetworking, Type: "vpc", Scope: "r1"},
		}

		first, err := testee.UpsertBatch(ctx, owner, time.Now(), payload)
		if err != nil {
			t.Fatal(err)
		}
		if first != (kdb.UpsertCounts{Created: 3}) {
			t.Errorf("first counts = %+v", first)
		}
		before := try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t)

		second, err := testee.UpsertBatch(ctx, owner, time.Now(), payload)
		if err != nil {
			t.Fatal(err)
		}
		if second != (kdb.UpsertCounts{Updated: 3}) {
			t.Errorf("second counts = %+v", second)
		}
		after := try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t)

		if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(kdb.Stored{}, "LastSeenAt")); diff != "" {
			t.Errorf("rows changed (-first +second):\n%s", diff)
		}
		if len(after) != 2 {
			t.Errorf("entities = %v, want 2 rows", ids(after))
		}
		networks := try.To(testee.Find(ctx, 1, domain.KindNetworking)).OrFatal(t)
		if diff := cmp.Diff([]string{"vpc-1"}, ids(networks)); diff != "" {
			t.Errorf("networking (-want +got):\n%s", diff)
		}
		if other := try.To(testee.Find(ctx, 2, domain.KindEntity)).OrFatal(t); len(other) != 0 {
			t.Errorf("other organization sees %v", ids(other))
		}
	})

	t.Run("a constraint violation aborts the batch only", func(t *testing.T) {
		pool := poolBroker.GetPool(ctx, t)
		testee := kpgent.New(pool)

		if _, err := testee.UpsertBatch(ctx, owner, time.Now(), []domain.Resource{vm("i-1", "r1")}); err != nil {
			t.Fatal(err)
		}

		_, err := testee.UpsertBatch(ctx, owner, time.Now(), []domain.Resource{vm("i-2", "r1"), vm("", "r1")})
		var recErr *domain.ReconciliationError
		if !errors.As(err, &recErr) {
			t.Fatalf("err = %v, want *domain.ReconciliationError", err)
		}
		if recErr.Table != "entities" {
			t.Errorf("table = %s", recErr.Table)
		}

		got := try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t)
		if diff := cmp.Diff([]string{"i-1"}, ids(got)); diff != "" {
			t.Errorf("entities (-want +got):\n%s", diff)
		}
	})
}

func TestEntity_Sweep(t *testing.T) {
	ctx := context.Background()
	poolBroker := testenv.NewPoolBroker(ctx, t)
	owner := kdb.Owner{OrganizationID: 1, JobID: 10, Provider: domain.ProviderAWS}

	t.Run("only succeeded scopes are staled, and re-observation clears it", func(t *testing.T) {
		pool := poolBroker.GetPool(ctx, t)
		testee := kpgent.New(pool)

		old := time.Now().Add(-time.Hour)
		if _, err := testee.UpsertBatch(ctx, owner, old, []domain.Resource{
			vm("i-1", "r1"), vm("i-2", "r1"), vm("i-3", "r2"),
		}); err != nil {
			t.Fatal(err)
		}

		runStart := time.Now()
		// this run sees i-1 in r1, and r2 failed.
		if _, err := testee.UpsertBatch(ctx, owner, runStart, []domain.Resource{vm("i-1", "r1")}); err != nil {
			t.Fatal(err)
		}
		swept, err := testee.Sweep(ctx, kdb.SweepRequest{
			Owner: owner, Scopes: []string{"r1"}, Before: runStart, Policy: domain.SweepStale,
		})
		if err != nil {
			t.Fatal(err)
		}
		if swept != 1 {
			t.Errorf("swept = %d, want 1", swept)
		}

		stale := map[string]bool{}
		for _, s := range try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t) {
			stale[s.ExternalID] = s.StaleSince != nil
		}
		if diff := cmp.Diff(map[string]bool{"i-1": false, "i-2": true, "i-3": false}, stale); diff != "" {
			t.Errorf("stale (-want +got):\n%s", diff)
		}

		if _, err := testee.UpsertBatch(ctx, owner, time.Now(), []domain.Resource{vm("i-2", "r1")}); err != nil {
			t.Fatal(err)
		}
		for _, s := range try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t) {
			if s.ExternalID == "i-2" && s.StaleSince != nil {
				t.Error("re-observed resource is still stale")
			}
		}
	})

	t.Run("full sweep deletes", func(t *testing.T) {
		pool := poolBroker.GetPool(ctx, t)
		testee := kpgent.New(pool)

		if _, err := testee.UpsertBatch(ctx, owner, time.Now().Add(-time.Hour), []domain.Resource{
			vm("i-1", "r1"), vm("i-2", "r2"),
		}); err != nil {
			t.Fatal(err)
		}
		runStart := time.Now()
		if _, err := testee.UpsertBatch(ctx, owner, runStart, []domain.Resource{vm("i-1", "r1")}); err != nil {
			t.Fatal(err)
		}
		swept, err := testee.Sweep(ctx, kdb.SweepRequest{
			Owner: owner, AllScopes: true, Before: runStart, Policy: domain.SweepDelete,
		})
		if err != nil {
			t.Fatal(err)
		}
		if swept != 1 {
			t.Errorf("swept = %d, want 1", swept)
		}
		got := try.To(testee.Find(ctx, 1, domain.KindEntity)).OrFatal(t)
		if diff := cmp.Diff([]string{"i-1"}, ids(got)); diff != "" {
			t.Errorf("entities (-want +got):\n%s", diff)
		}
	})

	t.Run("resources of other jobs are left alone", func(t *testing.T) {
		pool := poolBroker.GetPool(ctx, t)
		testee := kpgent.New(pool)

		other := kdb.Owner{OrganizationID: 1, JobID: 11, Provider: domain.ProviderAWS}
		if _, err := testee.UpsertBatch(ctx, other, time.Now().Add(-time.Hour), []domain.Resource{vm("i-9", "r1")}); err != nil {
			t.Fatal(err)
		}
		swept, err := testee.Sweep(ctx, kdb.SweepRequest{
			Owner: owner, AllScopes: true, Before: time.Now(),
		})
		if swept != 0 || err != nil {
			t.Errorf("(swept, err) = (%d, %v), want (0, nil)", swept, err)
		}
	})
}
