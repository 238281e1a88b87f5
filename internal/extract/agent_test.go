package extract

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/corpus/corpustest"
)

func newTestAgent() *Agent {
	return NewAgent(corpustest.Herat(), model.ExtractConfig{FuzzyThreshold: 0.8})
}

func TestExtractBuilderRow(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable,
		"columns: Name, Notes; rows: Friday Mosque of Herat", model.TurnView{Turn: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.NotFound {
		t.Fatalf("unexpected not found: %s", out.Reason)
	}
	want := &model.TableFragment{
		TableID:    corpustest.MosquesTable,
		Title:      "List of mosques in Afghanistan",
		Columns:    []string{"Name", "Notes"},
		RowIndices: []int{0},
		Rows:       [][]string{{"Friday Mosque of Herat", "Built on the site of two smaller fire temples"}},
		Selector:   "columns: Name, Notes; rows: Friday Mosque of Herat",
		Turn:       2,
	}
	if diff := cmp.Diff(want, out.Fragment); diff != "" {
		t.Fatalf("fragment mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractMissingColumnIsNotFound(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable,
		"columns: Architect", model.TurnView{})
	if err != nil {
		t.Fatalf("missing column must not be an error: %v", err)
	}
	if !out.NotFound {
		t.Fatal("expected not found")
	}
	payload := out.Payload(corpustest.MosquesTable, "columns: Architect")
	if payload["ok"] != false || payload["not_found"] != true {
		t.Fatalf("payload = %v", payload)
	}
	if payload["table_id"] != corpustest.MosquesTable {
		t.Fatalf("payload does not echo table id: %v", payload)
	}
}

func TestExtractUnknownTableIsNotFound(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), "nope", "Name", model.TurnView{})
	if err != nil || !out.NotFound {
		t.Fatalf("got %+v, %v", out, err)
	}
}

func TestExtractRowTieGoesToTableOrder(t *testing.T) {
	// "Balkh" is an exact Location cell in row 3 and an exact Province cell
	// in row 1; row-major order puts row 1 first.
	out, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable,
		"columns: Name; rows: Balkh", model.TurnView{})
	if err != nil || out.NotFound {
		t.Fatalf("got %+v, %v", out, err)
	}
	if diff := cmp.Diff([]int{1}, out.Fragment.RowIndices); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}
	if out.Resolutions[1].Kind != MatchExact {
		t.Fatalf("resolutions = %+v", out.Resolutions)
	}
}

func TestExtractNormalizedColumn(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), corpustest.WorldCupTable,
		"columns: player, CLUB; index: 0", model.TurnView{})
	if err != nil || out.NotFound {
		t.Fatalf("got %+v, %v", out, err)
	}
	if diff := cmp.Diff([][]string{{"José Luis Chilavert", "Vélez Sarsfield"}}, out.Fragment.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractWhere(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable,
		"columns: Name; where: province=balkh", model.TurnView{})
	if err != nil || out.NotFound {
		t.Fatalf("got %+v, %v", out, err)
	}
	if diff := cmp.Diff([][]string{{"Blue Mosque"}, {"Green Mosque"}}, out.Fragment.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	miss, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable,
		"where: Province=Kandahar", model.TurnView{})
	if err != nil || !miss.NotFound {
		t.Fatalf("got %+v, %v", miss, err)
	}
}

func TestExtractIndexOutOfRange(t *testing.T) {
	out, err := newTestAgent().Extract(context.Background(), corpustest.MosquesTable, "index: 42", model.TurnView{})
	if err != nil || !out.NotFound {
		t.Fatalf("got %+v, %v", out, err)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestAgent().Extract(ctx, corpustest.MosquesTable, "", model.TurnView{}); err == nil {
		t.Fatal("expected context error")
	}
}
