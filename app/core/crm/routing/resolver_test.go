package routing

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"leadrouter/app/core/crm/store"
)

type fakeLeadTx struct {
	byExternalID map[string]store.Lead
	byPhone      map[string]store.Lead
	byEmail      map[string]store.Lead
	created      []store.Lead
	nextID       int64
}

func newFakeLeadTx() *fakeLeadTx {
	return &fakeLeadTx{
		byExternalID: map[string]store.Lead{},
		byPhone:      map[string]store.Lead{},
		byEmail:      map[string]store.Lead{},
		nextID:       100,
	}
}

func (f *fakeLeadTx) FindLeadByExternalID(_ context.Context, externalID string) (store.Lead, error) {
	if lead, ok := f.byExternalID[externalID]; ok {
		return lead, nil
	}
	return store.Lead{}, sql.ErrNoRows
}

func (f *fakeLeadTx) FindLeadByPhone(_ context.Context, phone string) (store.Lead, error) {
	if lead, ok := f.byPhone[phone]; ok {
		return lead, nil
	}
	return store.Lead{}, sql.ErrNoRows
}

func (f *fakeLeadTx) FindLeadByEmail(_ context.Context, email string) (store.Lead, error) {
	if lead, ok := f.byEmail[email]; ok {
		return lead, nil
	}
	return store.Lead{}, sql.ErrNoRows
}

func (f *fakeLeadTx) CreateLead(_ context.Context, externalID, phone, email string) (store.Lead, error) {
	f.nextID++
	lead := store.Lead{ID: f.nextID, ExternalID: externalID, Phone: phone, Email: email}
	f.created = append(f.created, lead)
	return lead, nil
}

func TestResolveMatchesByExternalIDFirst(t *testing.T) {
	tx := newFakeLeadTx()
	tx.byExternalID["ext-1"] = store.Lead{ID: 1, ExternalID: "ext-1"}
	tx.byPhone["+100"] = store.Lead{ID: 2, Phone: "+100"}

	lead, err := ResolveOrCreateLead(context.Background(), tx, "ext-1", "+100", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if lead.ID != 1 {
		t.Fatalf("external_id match must win, got lead %d", lead.ID)
	}
	if len(tx.created) != 0 {
		t.Fatal("no lead should be created on a match")
	}
}

func TestResolveFallsThroughToPhoneThenEmail(t *testing.T) {
	tx := newFakeLeadTx()
	tx.byEmail["a@example.com"] = store.Lead{ID: 3, Email: "a@example.com"}

	lead, err := ResolveOrCreateLead(context.Background(), tx, "ext-unknown", "+unknown", "a@example.com")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if lead.ID != 3 {
		t.Fatalf("expected email match, got lead %d", lead.ID)
	}
}

func TestResolveCreatesWhenNoKeyMatches(t *testing.T) {
	tx := newFakeLeadTx()

	lead, err := ResolveOrCreateLead(context.Background(), tx, "ext-new", "+200", "new@example.com")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(tx.created) != 1 {
		t.Fatalf("expected one created lead, got %d", len(tx.created))
	}
	if lead.ExternalID != "ext-new" || lead.Phone != "+200" || lead.Email != "new@example.com" {
		t.Fatalf("created lead must carry given fields: %+v", lead)
	}
}

func TestResolveCreatesAnonymousLead(t *testing.T) {
	tx := newFakeLeadTx()

	lead, err := ResolveOrCreateLead(context.Background(), tx, "", "", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if lead.ID == 0 {
		t.Fatal("expected a created anonymous lead")
	}
	if len(tx.created) != 1 {
		t.Fatalf("expected one created lead, got %d", len(tx.created))
	}
}

type failingLeadTx struct {
	*fakeLeadTx
	err error
}

func (f *failingLeadTx) FindLeadByPhone(context.Context, string) (store.Lead, error) {
	return store.Lead{}, f.err
}

func TestResolvePropagatesStorageErrors(t *testing.T) {
	boom := errors.New("disk gone")
	tx := &failingLeadTx{fakeLeadTx: newFakeLeadTx(), err: boom}

	_, err := ResolveOrCreateLead(context.Background(), tx, "", "+100", "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error to surface, got %v", err)
	}
}
