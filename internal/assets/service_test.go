package assets

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/adapter/memstore"
	"studio/internal/domain"
	"studio/internal/storage"
)

type stubBlobs struct {
	mu        sync.Mutex
	n         int
	objects   map[string][]byte
	deleted   []string
	failPut   bool
	failDel   bool
	failURLOf string
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{objects: map[string][]byte{}}
}

func (b *stubBlobs) Put(_ context.Context, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut {
		return "", errors.New("disk full")
	}
	b.n++
	id := fmt.Sprintf("blobs/%03d.png", b.n)
	b.objects[id] = data
	return id, nil
}

func (b *stubBlobs) Get(_ context.Context, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[id]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return data, nil
}

func (b *stubBlobs) URL(_ context.Context, id string) (string, error) {
	if id == b.failURLOf {
		return "", errors.New("presign failed")
	}
	return "https://cdn.test/" + id, nil
}

func (b *stubBlobs) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	if b.failDel {
		return errors.New("bucket unavailable")
	}
	delete(b.objects, id)
	return nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

type fixture struct {
	store    *memstore.Store
	blobs    *stubBlobs
	reporter *recordingReporter
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	f := &fixture{
		store:    memstore.New(),
		blobs:    newStubBlobs(),
		reporter: &recordingReporter{},
	}
	f.store.PutStyle(domain.Style{ID: "style-1", Name: "Calm"})
	f.store.PutResource(domain.Resource{ID: "res-1", Name: "Feelings"})
	f.svc = NewService(f.store, f.blobs, zerolog.Nop(), WithClock(tick), WithReporter(f.reporter))
	return f
}

func (f *fixture) add(t *testing.T, key domain.AssetKey, prompt string) *domain.AssetVersion {
	t.Helper()
	v, err := f.svc.AddVersion(context.Background(), AddVersionInput{
		Key:         key,
		Data:        []byte(prompt),
		ContentType: "image/png",
		Prompt:      prompt,
		Source:      domain.VersionSourceGenerated,
	})
	if err != nil {
		t.Fatalf("AddVersion: %v", err)
	}
	return v
}

var (
	cardKey   = domain.AssetKey{Owner: domain.ResourceOwner("res-1"), AssetType: "card_image", AssetKey: "happy"}
	borderKey = domain.AssetKey{Owner: domain.StyleOwner("style-1"), AssetType: domain.AssetTypeFrameBorder}
	fullKey   = domain.AssetKey{Owner: domain.StyleOwner("style-1"), AssetType: domain.AssetTypeFrameFullCard}
)

func TestAddVersionCreatesAssetAndPointsAtIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.add(t, cardKey, "a smiling kid")
	v2 := f.add(t, cardKey, "a smiling kid, watercolor")

	detail, err := f.svc.GetAsset(ctx, cardKey)
	if err != nil || detail == nil {
		t.Fatalf("GetAsset = %v, %v", detail, err)
	}
	if v1.AssetID != v2.AssetID {
		t.Fatalf("second version created a new asset")
	}
	if len(detail.Versions) != 2 || detail.Versions[0].ID != v2.ID {
		t.Fatalf("versions not newest first: %+v", detail.Versions)
	}
	if detail.Current == nil || detail.Current.ID != v2.ID {
		t.Fatalf("current = %+v, want %s", detail.Current, v2.ID)
	}
}

func TestAddVersionKeepCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.add(t, cardKey, "first")
	_, err := f.svc.AddVersion(ctx, AddVersionInput{Key: cardKey, Data: []byte("x"), KeepCurrent: true})
	if err != nil {
		t.Fatalf("AddVersion: %v", err)
	}
	detail, _ := f.svc.GetAsset(ctx, cardKey)
	if detail.Current.ID != v1.ID {
		t.Fatalf("KeepCurrent moved the pointer")
	}
	if detail.Versions[0].Source != domain.VersionSourceUploaded {
		t.Fatalf("empty source should default to uploaded, got %s", detail.Versions[0].Source)
	}
}

func TestAddVersionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddVersion(ctx, AddVersionInput{Key: cardKey})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty data: got %v", err)
	}
	_, err = f.svc.AddVersion(ctx, AddVersionInput{Key: cardKey, Data: []byte("x"), Source: "painted"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad source: got %v", err)
	}
	_, err = f.svc.AddVersion(ctx, AddVersionInput{Key: domain.AssetKey{Owner: domain.ResourceOwner("res-1")}, Data: []byte("x")})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("missing asset type: got %v", err)
	}
}

func TestGetAssetMissingReturnsNil(t *testing.T) {
	f := newFixture(t)
	detail, err := f.svc.GetAsset(context.Background(), cardKey)
	if err != nil || detail != nil {
		t.Fatalf("GetAsset = %+v, %v", detail, err)
	}
}

func TestGetByOwnerResolvesURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "happy")
	sadKey := cardKey
	sadKey.AssetKey = "sad"
	sad := f.add(t, sadKey, "sad")
	f.blobs.failURLOf = sad.StorageID

	owned, err := f.svc.GetByOwner(ctx, domain.ResourceOwner("res-1"))
	if err != nil {
		t.Fatalf("GetByOwner: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(owned))
	}
	if owned[0].Asset.AssetKey != "happy" || owned[0].URL != "https://cdn.test/"+v.StorageID {
		t.Fatalf("unexpected first asset %+v", owned[0])
	}
	if owned[1].URL != "" || owned[1].Current == nil {
		t.Fatalf("unresolvable url should be empty with version kept: %+v", owned[1])
	}

	empty, err := f.svc.GetByOwner(ctx, domain.StyleOwner("style-1"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("style without assets = %v, %v", empty, err)
	}
	if _, err := f.svc.GetByOwner(ctx, domain.Owner{Type: "user", ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad owner: got %v", err)
	}
}

func TestSetCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.add(t, cardKey, "one")
	f.add(t, cardKey, "two")

	if err := f.svc.SetCurrentVersion(ctx, v1.AssetID, v1.ID); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}
	detail, _ := f.svc.GetAsset(ctx, cardKey)
	if detail.Current.ID != v1.ID {
		t.Fatalf("current = %s, want %s", detail.Current.ID, v1.ID)
	}

	other := cardKey
	other.AssetKey = "sad"
	foreign := f.add(t, other, "sad")
	err := f.svc.SetCurrentVersion(ctx, v1.AssetID, foreign.ID)
	if !errors.Is(err, domain.ErrOwnershipMismatch) {
		t.Fatalf("foreign version: got %v", err)
	}
	detail, _ = f.svc.GetAsset(ctx, cardKey)
	if detail.Current.ID != v1.ID {
		t.Fatalf("mismatch changed the pointer")
	}

	if err := f.svc.SetCurrentVersion(ctx, "nope", v1.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing asset: got %v", err)
	}
	if err := f.svc.SetCurrentVersion(ctx, v1.AssetID, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing version: got %v", err)
	}
}

func TestFramesFollowCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.add(t, borderKey, "vines")
	full := f.add(t, fullKey, "stars")
	b2 := f.add(t, borderKey, "waves")

	style, _ := f.store.Style("style-1")
	if style.Frames[domain.FrameRoleBorder].StorageID != b2.StorageID {
		t.Fatalf("border = %+v, want %s", style.Frames[domain.FrameRoleBorder], b2.StorageID)
	}
	if style.Frames[domain.FrameRoleFullCard].StorageID != full.StorageID {
		t.Fatalf("fullCard = %+v", style.Frames[domain.FrameRoleFullCard])
	}

	if err := f.svc.SetCurrentVersion(ctx, b1.AssetID, b1.ID); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}
	style, _ = f.store.Style("style-1")
	got := style.Frames[domain.FrameRoleBorder]
	if got.StorageID != b1.StorageID || got.Prompt != "vines" || !got.GeneratedAt.Equal(b1.CreatedAt) {
		t.Fatalf("border after revert = %+v", got)
	}
	if style.Frames[domain.FrameRoleFullCard].StorageID != full.StorageID {
		t.Fatalf("fullCard disturbed by border change")
	}
}

func TestFrameAssetWithoutStyleIsIgnored(t *testing.T) {
	f := newFixture(t)
	orphan := domain.AssetKey{Owner: domain.StyleOwner("gone"), AssetType: domain.AssetTypeFrameBorder}
	f.add(t, orphan, "lonely")
	if _, ok := f.store.Style("gone"); ok {
		t.Fatalf("style should not be created")
	}
}

func TestPinVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "one")
	if err := f.svc.PinVersion(ctx, v.ID, true); err != nil {
		t.Fatalf("PinVersion: %v", err)
	}
	detail, _ := f.svc.GetAsset(ctx, cardKey)
	if !detail.Versions[0].Pinned {
		t.Fatalf("version not pinned")
	}
	if err := f.svc.PinVersion(ctx, "missing", true); err != nil {
		t.Fatalf("pin of missing version should be a no-op, got %v", err)
	}
	if err := f.svc.PinVersion(ctx, v.ID, false); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	detail, _ = f.svc.GetAsset(ctx, cardKey)
	if detail.Versions[0].Pinned {
		t.Fatalf("version still pinned")
	}
}

func TestDeleteVersionPromotesNewestRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.add(t, cardKey, "one")
	v2 := f.add(t, cardKey, "two")
	v3 := f.add(t, cardKey, "three")
	if err := f.svc.SetCurrentVersion(ctx, v1.AssetID, v1.ID); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}

	if err := f.svc.DeleteVersion(ctx, v1.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	detail, _ := f.svc.GetAsset(ctx, cardKey)
	if detail.Current == nil || detail.Current.ID != v3.ID {
		t.Fatalf("current = %+v, want %s", detail.Current, v3.ID)
	}
	if _, err := f.blobs.Get(ctx, v1.StorageID); !errors.Is(err, storage.ErrBlobNotFound) {
		t.Fatalf("blob of deleted version still present")
	}

	if err := f.svc.DeleteVersion(ctx, v3.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if err := f.svc.DeleteVersion(ctx, v2.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	detail, _ = f.svc.GetAsset(ctx, cardKey)
	if detail == nil || detail.Current != nil || len(detail.Versions) != 0 {
		t.Fatalf("asset should remain with no versions: %+v", detail)
	}
}

func TestDeleteVersionMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.DeleteVersion(context.Background(), "missing"); err != nil {
		t.Fatalf("got %v", err)
	}
	if len(f.blobs.deleted) != 0 {
		t.Fatalf("no blob should be touched")
	}
}

func TestDeleteVersionRefusesPinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "keep me")
	_ = f.svc.PinVersion(ctx, v.ID, true)
	if err := f.svc.DeleteVersion(ctx, v.ID); !errors.Is(err, domain.ErrVersionPinned) {
		t.Fatalf("got %v", err)
	}
	if len(f.blobs.deleted) != 0 {
		t.Fatalf("pinned blob deleted")
	}
}

func TestDeleteVersionSurvivesBlobFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "one")
	f.blobs.failDel = true
	if err := f.svc.DeleteVersion(ctx, v.ID); err != nil {
		t.Fatalf("blob failure must not fail the delete: %v", err)
	}
	detail, _ := f.svc.GetAsset(ctx, cardKey)
	if len(detail.Versions) != 0 {
		t.Fatalf("version row kept after blob failure")
	}
	if len(f.reporter.errs) != 1 {
		t.Fatalf("leaked blob not reported")
	}
}

func TestDeleteFrameVersionClearsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.add(t, borderKey, "vines")
	full := f.add(t, fullKey, "stars")

	if err := f.svc.DeleteVersion(ctx, b.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	style, _ := f.store.Style("style-1")
	if _, ok := style.Frames[domain.FrameRoleBorder]; ok {
		t.Fatalf("border role should be gone: %+v", style.Frames)
	}
	if style.Frames[domain.FrameRoleFullCard].StorageID != full.StorageID {
		t.Fatalf("fullCard lost")
	}

	if err := f.svc.DeleteVersion(ctx, full.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	style, _ = f.store.Style("style-1")
	if style.Frames != nil {
		t.Fatalf("frames should be absent, got %+v", style.Frames)
	}
}

func TestAddVersionRemovesBlobWhenTxFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, cardKey, "one")
	// colliding ids make the version insert fail inside the transaction
	f.svc.newID = func() string { return "fixed" }
	_, _ = f.svc.AddVersion(ctx, AddVersionInput{Key: cardKey, Data: []byte("a")})
	before := len(f.blobs.deleted)
	if _, err := f.svc.AddVersion(ctx, AddVersionInput{Key: cardKey, Data: []byte("b")}); err == nil {
		t.Fatalf("expected duplicate version error")
	}
	if len(f.blobs.deleted) != before+1 {
		t.Fatalf("orphan blob not removed")
	}
}

// TestRandomizedPointerIntegrity applies random sequences of operations and
// checks after each step that every pointer targets a version of its own
// asset and that style frames mirror the current frame versions.
func TestRandomizedPointerIntegrity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := []domain.AssetKey{cardKey, borderKey, fullKey}
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		ctx := context.Background()
		var versions []*domain.AssetVersion
		for step := 0; step < 40; step++ {
			switch op := rng.Intn(5); {
			case op <= 1 || len(versions) == 0:
				versions = append(versions, f.add(t, keys[rng.Intn(len(keys))], fmt.Sprintf("r%d s%d", round, step)))
			case op == 2:
				a, b := versions[rng.Intn(len(versions))], versions[rng.Intn(len(versions))]
				err := f.svc.SetCurrentVersion(ctx, a.AssetID, b.ID)
				if err != nil && !errors.Is(err, domain.ErrOwnershipMismatch) && !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("SetCurrentVersion: %v", err)
				}
			case op == 3:
				v := versions[rng.Intn(len(versions))]
				if err := f.svc.PinVersion(ctx, v.ID, rng.Intn(2) == 0); err != nil {
					t.Fatalf("PinVersion: %v", err)
				}
			default:
				v := versions[rng.Intn(len(versions))]
				err := f.svc.DeleteVersion(ctx, v.ID)
				if err != nil && !errors.Is(err, domain.ErrVersionPinned) {
					t.Fatalf("DeleteVersion: %v", err)
				}
			}
			checkIntegrity(t, f, keys)
		}
	}
}

func checkIntegrity(t *testing.T, f *fixture, keys []domain.AssetKey) {
	t.Helper()
	ctx := context.Background()
	style, _ := f.store.Style("style-1")
	for _, key := range keys {
		detail, err := f.svc.GetAsset(ctx, key)
		if err != nil {
			t.Fatalf("GetAsset: %v", err)
		}
		var current *domain.AssetVersion
		if detail != nil {
			if detail.Asset.CurrentVersionID != nil {
				if detail.Current == nil {
					t.Fatalf("pointer %s of %s dangles", *detail.Asset.CurrentVersionID, key.AssetType)
				}
				if detail.Current.AssetID != detail.Asset.ID {
					t.Fatalf("pointer crosses assets")
				}
			} else if len(detail.Versions) > 0 {
				t.Fatalf("asset %s has versions but no current", key.AssetType)
			}
			current = detail.Current
		}
		role, ok := domain.FrameRoleForAssetType(key.AssetType)
		if !ok {
			continue
		}
		frame, has := style.Frames[role]
		switch {
		case current == nil && has:
			t.Fatalf("role %s set without a current version", role)
		case current != nil && (!has || frame.StorageID != current.StorageID):
			t.Fatalf("role %s = %+v, want %s", role, frame, current.StorageID)
		}
	}
	if style.Frames != nil && len(style.Frames) == 0 {
		t.Fatalf("frames should be nil when empty")
	}
}

// hookStore wraps the memory store to run code just before a transaction
// starts, fail version deletes and record the order rows are read in a tx.
type hookStore struct {
	*memstore.Store
	beforeTx   func()
	failDelete error

	mu    sync.Mutex
	reads []string
}

func (h *hookStore) InTx(ctx context.Context, fn func(tx domain.AssetTx) error) error {
	if h.beforeTx != nil {
		h.beforeTx()
	}
	return h.Store.InTx(ctx, func(tx domain.AssetTx) error {
		return fn(&hookTx{AssetTx: tx, h: h})
	})
}

func (h *hookStore) record(what string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads = append(h.reads, what)
}

type hookTx struct {
	domain.AssetTx
	h *hookStore
}

func (t *hookTx) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	t.h.record("asset")
	return t.AssetTx.GetAsset(ctx, assetID)
}

func (t *hookTx) GetVersion(ctx context.Context, versionID string) (*domain.AssetVersion, error) {
	t.h.record("version")
	return t.AssetTx.GetVersion(ctx, versionID)
}

func (t *hookTx) DeleteVersion(ctx context.Context, versionID string) error {
	if t.h.failDelete != nil {
		return t.h.failDelete
	}
	return t.AssetTx.DeleteVersion(ctx, versionID)
}

func TestDeleteVersionRechecksPinInsideTx(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "pinned late")

	hs := &hookStore{Store: f.store}
	hs.beforeTx = func() {
		// another request pins the version after the first read
		_ = f.store.InTx(ctx, func(tx domain.AssetTx) error {
			return tx.SetPinned(ctx, v.ID, true)
		})
	}
	svc := NewService(hs, f.blobs, zerolog.Nop(), WithReporter(f.reporter))

	if err := svc.DeleteVersion(ctx, v.ID); !errors.Is(err, domain.ErrVersionPinned) {
		t.Fatalf("expected ErrVersionPinned, got %v", err)
	}
	if len(f.blobs.deleted) != 0 {
		t.Fatalf("blob of a pinned version deleted: %v", f.blobs.deleted)
	}
	if _, err := f.store.GetVersion(ctx, v.ID); err != nil {
		t.Fatalf("pinned version removed: %v", err)
	}
}

func TestDeleteVersionReportsRowKeptAfterBlobDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.add(t, cardKey, "one")

	hs := &hookStore{Store: f.store, failDelete: errors.New("connection reset")}
	svc := NewService(hs, f.blobs, zerolog.Nop(), WithReporter(f.reporter))

	if err := svc.DeleteVersion(ctx, v.ID); err == nil {
		t.Fatal("expected delete error")
	}
	if len(f.blobs.deleted) != 1 || f.blobs.deleted[0] != v.StorageID {
		t.Fatalf("unexpected blob deletes %v", f.blobs.deleted)
	}
	if len(f.reporter.errs) != 1 {
		t.Fatalf("kept row after blob delete not reported: %v", f.reporter.errs)
	}
	if _, err := f.store.GetVersion(ctx, v.ID); err != nil {
		t.Fatalf("failed tx should keep the row: %v", err)
	}
}

func TestWritesLockAssetBeforeVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.add(t, cardKey, "one")
	v2 := f.add(t, cardKey, "two")

	hs := &hookStore{Store: f.store}
	svc := NewService(hs, f.blobs, zerolog.Nop())

	if err := svc.SetCurrentVersion(ctx, v1.AssetID, v1.ID); err != nil {
		t.Fatalf("SetCurrentVersion: %v", err)
	}
	if err := svc.DeleteVersion(ctx, v2.ID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	want := []string{"asset", "version", "asset", "version"}
	if fmt.Sprint(hs.reads) != fmt.Sprint(want) {
		t.Fatalf("read order %v, want %v", hs.reads, want)
	}
}
