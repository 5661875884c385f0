package merge

import (
	"fmt"
	"testing"

	"fleetsync/internal/record"
)

func rec(id, status string) record.Record {
	r := record.New(id)
	r.Set(record.ColStatus, status)
	return r
}

func batch(n int, status string) []record.Record {
	out := make([]record.Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, rec(fmt.Sprintf("t%d", i), status))
	}
	return out
}

func TestMerge_Counts(t *testing.T) {
	existing := batch(50, "aberto")
	incoming := []record.Record{
		rec("t1", "em rota"), rec("t2", "em rota"), rec("t3", "em rota"), rec("t4", "em rota"), rec("t5", "em rota"),
		rec("n1", "aberto"), rec("n2", "aberto"),
	}
	got := Merge(existing, incoming)
	if len(got.Records) != 52 {
		t.Fatalf("records=%d want 52", len(got.Records))
	}
	if got.Inserted != 2 || got.Updated != 5 {
		t.Fatalf("inserted=%d updated=%d want 2/5", got.Inserted, got.Updated)
	}
	if got.Records[0].Text(record.ColStatus) != "em rota" {
		t.Fatalf("incoming did not win: %v", got.Records[0].Fields)
	}
	if got.Records[50].ID != "n1" || got.Records[51].ID != "n2" {
		t.Fatalf("new ids not appended in order: %s %s", got.Records[50].ID, got.Records[51].ID)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	base := batch(10, "aberto")
	incoming := []record.Record{rec("t3", "finalizada"), rec("x", "aberto")}
	first := Merge(base, incoming)
	second := Merge(first.Records, incoming)
	if second.Inserted != 0 || second.Updated != 2 {
		t.Fatalf("second pass inserted=%d updated=%d want 0/2", second.Inserted, second.Updated)
	}
	if len(second.Records) != len(first.Records) {
		t.Fatalf("len=%d want %d", len(second.Records), len(first.Records))
	}
	for i := range first.Records {
		if first.Records[i].ID != second.Records[i].ID ||
			first.Records[i].Text(record.ColStatus) != second.Records[i].Text(record.ColStatus) {
			t.Fatalf("record %d differs", i)
		}
	}
}

func TestMerge_DropsRecordsWithoutID(t *testing.T) {
	existing := []record.Record{rec("a", "x"), {Fields: map[string]any{"Nome": "orphan"}}}
	incoming := []record.Record{{Fields: map[string]any{"Nome": "no id"}}, rec("b", "y")}
	got := Merge(existing, incoming)
	if len(got.Records) != 2 {
		t.Fatalf("records=%d want 2", len(got.Records))
	}
	if got.Inserted != 1 || got.Updated != 0 {
		t.Fatalf("inserted=%d updated=%d want 1/0", got.Inserted, got.Updated)
	}
}

func TestMerge_DuplicateIncomingCountedOnce(t *testing.T) {
	got := Merge([]record.Record{rec("a", "1")}, []record.Record{rec("a", "2"), rec("a", "3"), rec("b", "1"), rec("b", "2")})
	if got.Updated != 1 || got.Inserted != 1 {
		t.Fatalf("inserted=%d updated=%d want 1/1", got.Inserted, got.Updated)
	}
	if got.Records[0].Text(record.ColStatus) != "3" || got.Records[1].Text(record.ColStatus) != "2" {
		t.Fatalf("last write should win: %v %v", got.Records[0].Fields, got.Records[1].Fields)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := []record.Record{rec("a", "old")}
	incoming := []record.Record{rec("a", "new")}
	got := Merge(existing, incoming)
	got.Records[0].Set(record.ColStatus, "changed")
	if existing[0].Text(record.ColStatus) != "old" {
		t.Fatalf("existing mutated")
	}
	if incoming[0].Text(record.ColStatus) != "new" {
		t.Fatalf("incoming mutated")
	}
}
