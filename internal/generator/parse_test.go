package generator

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nicodishanthj/fieldq/internal/query"
)

func TestParseShapesBodyByOperation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    query.Generated
	}{
		{
			name:    "count defaults filter",
			content: `{"operation":"count","collection":"harvests","explanation":"n","confidence":0.5}`,
			want:    query.Accepted{Body: query.Body{Filter: query.Document{}}, Collection: "harvests", Operation: query.OpCount, Explanation: "n", Confidence: 0.5},
		},
		{
			name:    "aggregate keeps integer limits",
			content: `{"operation":"aggregate","collection":"harvests","pipeline":[{"$match":{"ownerId":"U1"}},{"$limit":5}],"confidence":0.8}`,
			want: query.Accepted{
				Body:       query.Body{Pipeline: []query.Document{{"$match": map[string]any{"ownerId": "U1"}}, {"$limit": int64(5)}}},
				Collection: "harvests", Operation: query.OpAggregate, Confidence: 0.8,
			},
		},
		{
			name:    "distinct",
			content: "```json\n{\"operation\":\"distinct\",\"collection\":\"crops\",\"field\":\"variety\",\"filter\":{\"ownerId\":\"U1\"}}\n```",
			want: query.Accepted{
				Body:       query.Body{Distinct: &query.DistinctQuery{Field: "variety", Filter: query.Document{"ownerId": "U1"}}},
				Collection: "crops", Operation: query.OpDistinct,
			},
		},
		{
			name:    "unknown operation passes through",
			content: `{"operation":"deleteMany","collection":"farms","filter":{"ownerId":"U1"}}`,
			want:    query.Accepted{Body: query.Body{Filter: query.Document{"ownerId": "U1"}}, Collection: "farms", Operation: "deletemany"},
		},
		{
			name:    "confidence clamped",
			content: `{"operation":"find","collection":"farms","filter":{},"confidence":7}`,
			want:    query.Accepted{Body: query.Body{Filter: query.Document{}}, Collection: "farms", Operation: query.OpFind, Confidence: 1},
		},
		{
			name:    "rejected without explanation",
			content: `{"rejected":true}`,
			want:    query.Rejected{Explanation: defaultRejection},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.content)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for name, content := range map[string]string{
		"empty":             "  ",
		"prose":             "I cannot do that",
		"array":             `[1,2]`,
		"no operation":      `{"collection":"farms"}`,
		"no collection":     `{"operation":"find"}`,
		"filter not object": `{"operation":"find","collection":"farms","filter":"ownerId=U1"}`,
		"pipeline scalar":   `{"operation":"aggregate","collection":"farms","pipeline":{"$match":{}}}`,
		"pipeline stage":    `{"operation":"aggregate","collection":"farms","pipeline":["$match"]}`,
		"distinct no field": `{"operation":"distinct","collection":"farms"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(content); query.KindOf(err) != query.KindParse {
				t.Fatalf("expected parse error, got %v", err)
			}
		})
	}
}
