package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/pkg/constants"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "bundles.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func starterBundle() solver.BundleObservation {
	return solver.BundleObservation{
		TotalPrice: 10,
		Lines:      []solver.BundleLine{{ItemTypeID: "sword", Quantity: 1}},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", zap.NewNop()); err == nil {
		t.Error("expected an error for a blank storage path")
	}
}

func TestSubmitAndGetBundle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.SubmitBundle(ctx, "Starter Pack", starterBundle())
	if err != nil {
		t.Fatalf("SubmitBundle failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated bundle id")
	}

	bundle, err := st.GetBundle(ctx, id)
	if err != nil {
		t.Fatalf("GetBundle failed: %v", err)
	}
	if bundle.Name != "Starter Pack" {
		t.Errorf("name = %q", bundle.Name)
	}
	if bundle.Status != constants.StatusPending {
		t.Errorf("status = %q, want pending", bundle.Status)
	}
	if bundle.TotalPrice != 10 || len(bundle.Lines) != 1 || bundle.Lines[0].ItemTypeID != "sword" {
		t.Errorf("bundle = %+v", bundle)
	}
	if bundle.SubmittedAt.IsZero() {
		t.Error("submittedAt not recorded")
	}
}

func TestSubmitRejectsInvalidBundles(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.SubmitBundle(ctx, "", solver.BundleObservation{TotalPrice: -1}); err == nil {
		t.Error("expected invalid bundle to be rejected")
	}
}

func TestGetBundleNotFound(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.GetBundle(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestModerationWorkflow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.SubmitBundle(ctx, "", starterBundle())
	if err != nil {
		t.Fatalf("SubmitBundle failed: %v", err)
	}

	// Pending bundles never feed the solver.
	observations, err := st.ApprovedObservations(ctx)
	if err != nil {
		t.Fatalf("ApprovedObservations failed: %v", err)
	}
	if len(observations) != 0 {
		t.Fatalf("pending bundle leaked into observations: %v", observations)
	}

	if err := st.SetStatus(ctx, id, constants.StatusApproved); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	observations, err = st.ApprovedObservations(ctx)
	if err != nil {
		t.Fatalf("ApprovedObservations failed: %v", err)
	}
	if len(observations) != 1 || observations[0].TotalPrice != 10 {
		t.Fatalf("observations = %+v, want the approved bundle", observations)
	}

	if err := st.SetStatus(ctx, id, constants.StatusRejected); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	observations, err = st.ApprovedObservations(ctx)
	if err != nil {
		t.Fatalf("ApprovedObservations failed: %v", err)
	}
	if len(observations) != 0 {
		t.Fatal("rejected bundle still supplied to the solver")
	}
}

func TestSetStatusValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetStatus(ctx, "missing", constants.StatusApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	id, err := st.SubmitBundle(ctx, "", starterBundle())
	if err != nil {
		t.Fatalf("SubmitBundle failed: %v", err)
	}
	if err := st.SetStatus(ctx, id, "published"); err == nil {
		t.Error("expected an unknown status to be rejected")
	}
}

func TestListBundlesByStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.SubmitBundle(ctx, "first", starterBundle())
	if err != nil {
		t.Fatalf("SubmitBundle failed: %v", err)
	}
	if _, err := st.SubmitBundle(ctx, "second", starterBundle()); err != nil {
		t.Fatalf("SubmitBundle failed: %v", err)
	}
	if err := st.SetStatus(ctx, first, constants.StatusApproved); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	all, err := st.ListBundles(ctx, "")
	if err != nil {
		t.Fatalf("ListBundles failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all bundles = %d, want 2", len(all))
	}

	approved, err := st.ListBundles(ctx, constants.StatusApproved)
	if err != nil {
		t.Fatalf("ListBundles failed: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != first {
		t.Errorf("approved = %+v, want just the first bundle", approved)
	}
}
