package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Selector
	}{
		{
			name: "empty",
			in:   "  ",
			want: Selector{},
		},
		{
			name: "bare text is one row reference",
			in:   "Friday Mosque of Herat",
			want: Selector{Rows: []string{"Friday Mosque of Herat"}},
		},
		{
			name: "clauses",
			in:   "columns: Name, Notes; rows: Blue Mosque; index: 0, 3",
			want: Selector{Columns: []string{"Name", "Notes"}, Rows: []string{"Blue Mosque"}, Indices: []int{0, 3}},
		},
		{
			name: "where",
			in:   "column: Name; where: Province=Balkh, Built = 1481",
			want: Selector{Columns: []string{"Name"}, Where: map[string]string{"Province": "Balkh", "Built": "1481"}},
		},
		{
			name: "quoted values keep commas and semicolons",
			in:   `rows: "Herat, Afghanistan", Kabul; where: "City"="Mazar; Balkh", Built=1481`,
			want: Selector{
				Rows:  []string{"Herat, Afghanistan", "Kabul"},
				Where: map[string]string{"City": "Mazar; Balkh", "Built": "1481"},
			},
		},
		{
			name: "json",
			in:   `{"columns":[" Name "],"where":{"Location":"Herat"},"indices":[1]}`,
			want: Selector{Columns: []string{"Name"}, Where: map[string]string{"Location": "Herat"}, Indices: []int{1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelector(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("selector mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSelectorErrors(t *testing.T) {
	for _, in := range []string{"index: first", "where: Province", `{"columns": 3}`} {
		if _, err := ParseSelector(in); err == nil {
			t.Errorf("ParseSelector(%q) expected error", in)
		}
	}
}
