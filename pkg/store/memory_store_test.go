package store

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"promptvault/pkg/domain"
)

func makeRecord(id string, at time.Time) domain.Record {
	return domain.Record{
		ID:        id,
		Prompt:    "prompt-" + id,
		Result:    json.RawMessage(`"result-` + id + `"`),
		CreatedAt: at,
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	rec := makeRecord("a", time.Now().UTC())
	if err := s.SaveRecord(rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := s.GetRecord("a")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Prompt != rec.Prompt || string(got.Result) != string(rec.Result) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestListOrdersNewestFirstAndOmitsDeleted(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	_ = s.SaveRecord(makeRecord("old", base.Add(-2*time.Hour)))
	_ = s.SaveRecord(makeRecord("new", base))
	_ = s.SaveRecord(makeRecord("mid", base.Add(-time.Hour)))

	recs, err := s.ListRecords()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := []string{recs[0].ID, recs[1].ID, recs[2].ID}
	if !reflect.DeepEqual(ids, []string{"new", "mid", "old"}) {
		t.Fatalf("order = %v", ids)
	}

	if deleted, err := s.DeleteRecord("mid"); err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	recs, _ = s.ListRecords()
	for _, rec := range recs {
		if rec.ID == "mid" {
			t.Fatalf("deleted record still listed")
		}
	}
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveRecord(makeRecord("a", time.Now().UTC()))
	if deleted, _ := s.DeleteRecord("a"); !deleted {
		t.Fatalf("expected delete to report existing record")
	}
	if _, found, _ := s.GetRecord("a"); found {
		t.Fatalf("record still present after delete")
	}
	if deleted, _ := s.DeleteRecord("a"); deleted {
		t.Fatalf("second delete should report not found")
	}
	if deleted, _ := s.DeleteRecord("never-existed"); deleted {
		t.Fatalf("deleting unknown id should report not found")
	}
}

func TestUpdateAppliesWhitelistedFieldsOnly(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveRecord(makeRecord("a", time.Now().UTC()))

	updated, found, err := s.UpdateRecord("a", map[string]any{
		"prompt": "p2",
	})
	if err != nil || !found {
		t.Fatalf("update: found=%v err=%v", found, err)
	}
	if updated.Prompt != "p2" {
		t.Fatalf("prompt = %q, want p2", updated.Prompt)
	}
	if string(updated.Result) != `"result-a"` {
		t.Fatalf("result changed unexpectedly: %s", updated.Result)
	}
}

func TestUpdateWithNoFieldsIsNoOpSuccess(t *testing.T) {
	s := NewMemoryStore()
	orig := makeRecord("a", time.Now().UTC())
	_ = s.SaveRecord(orig)

	updated, found, err := s.UpdateRecord("a", nil)
	if err != nil || !found {
		t.Fatalf("no-op update: found=%v err=%v", found, err)
	}
	if updated.Prompt != orig.Prompt || string(updated.Result) != string(orig.Result) {
		t.Fatalf("no-op update changed record: %+v", updated)
	}

	if _, found, _ := s.UpdateRecord("missing", nil); found {
		t.Fatalf("update on missing id should report not found")
	}
}
