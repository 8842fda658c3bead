package vault

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergePayloads(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		overlay string
		want    string
	}{
		{
			name:    "disjoint keys union",
			base:    `{"a":1}`,
			overlay: `{"b":2}`,
			want:    `{"a":1,"b":2}`,
		},
		{
			name:    "overlay wins on conflict",
			base:    `{"a":1,"b":1}`,
			overlay: `{"b":2}`,
			want:    `{"a":1,"b":2}`,
		},
		{
			name:    "nested objects merge recursively",
			base:    `{"cfg":{"host":"x","port":1},"keep":true}`,
			overlay: `{"cfg":{"port":2}}`,
			want:    `{"cfg":{"host":"x","port":2},"keep":true}`,
		},
		{
			name:    "null overlay value deletes key",
			base:    `{"a":1,"b":2}`,
			overlay: `{"b":null}`,
			want:    `{"a":1}`,
		},
		{
			name:    "null deletes nested key",
			base:    `{"cfg":{"host":"x","port":1}}`,
			overlay: `{"cfg":{"port":null}}`,
			want:    `{"cfg":{"host":"x"}}`,
		},
		{
			name:    "arrays replaced wholesale",
			base:    `{"tags":[1,2,3]}`,
			overlay: `{"tags":[9]}`,
			want:    `{"tags":[9]}`,
		},
		{
			name:    "scalar replaces object",
			base:    `{"a":{"nested":true}}`,
			overlay: `{"a":42}`,
			want:    `{"a":42}`,
		},
		{
			name:    "object replaces scalar",
			base:    `{"a":42}`,
			overlay: `{"a":{"nested":true}}`,
			want:    `{"a":{"nested":true}}`,
		},
		{
			name:    "non-object roots replaced by overlay",
			base:    `[1,2]`,
			overlay: `[3]`,
			want:    `[3]`,
		},
		{
			name:    "empty overlay object keeps base",
			base:    `{"a":1}`,
			overlay: `{}`,
			want:    `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mergePayloads(json.RawMessage(tt.base), json.RawMessage(tt.overlay))
			if err != nil {
				t.Fatalf("mergePayloads: %v", err)
			}

			var gotVal, wantVal any
			if err := json.Unmarshal(got, &gotVal); err != nil {
				t.Fatalf("merged payload is not valid JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &wantVal); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(wantVal, gotVal); diff != "" {
				t.Errorf("merge result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergePayloadsInvalidJSON(t *testing.T) {
	if _, err := mergePayloads(json.RawMessage(`{bad`), json.RawMessage(`{}`)); err == nil {
		t.Error("invalid base accepted")
	}
	if _, err := mergePayloads(json.RawMessage(`{}`), json.RawMessage(`{bad`)); err == nil {
		t.Error("invalid overlay accepted")
	}
}
