package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/umar7shaikh/financial-document-analyzer/internal/pipeline"
	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

type fakeProvider struct {
	calls []string
}

func (f *fakeProvider) Complete(_ context.Context, _, user string) (string, error) {
	f.calls = append(f.calls, user)
	return "completion " + string(rune('0'+len(f.calls))), nil
}

func TestStagesMatchPipelineOrder(t *testing.T) {
	stages := Stages(&fakeProvider{})
	if len(stages) != len(schema.StageOrder) {
		t.Fatalf("expected %d stages, got %d", len(schema.StageOrder), len(stages))
	}
	for i, name := range schema.StageOrder {
		if stages[i].Name != name {
			t.Fatalf("stage %d = %s, want %s", i, stages[i].Name, name)
		}
	}
}

func TestLaterStagesSeePriorOutputs(t *testing.T) {
	p := &fakeProvider{}
	stages := Stages(p)
	pc := &pipeline.Context{
		Query:        "Assess risk",
		DocumentText: "revenue up 12%",
		Outputs: map[string]string{
			schema.StageMarketResearch:    "sector expanding",
			schema.StageFinancialAnalysis: "BUY, strong margins",
		},
	}

	if _, err := stages[2].Execute(context.Background(), pc); err != nil {
		t.Fatalf("verification stage: %v", err)
	}

	prompt := p.calls[0]
	for _, want := range []string{"Assess risk", "sector expanding", "BUY, strong margins", "revenue up 12%"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("verification prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestTruncateBoundsDocumentText(t *testing.T) {
	long := strings.Repeat("x", maxDocumentChars+100)
	got := truncate(long, maxDocumentChars)
	if len(got) >= len(long) {
		t.Fatalf("document text not truncated: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "[document truncated]") {
		t.Fatal("truncation marker missing")
	}
}

func TestExtractConfidence(t *testing.T) {
	cases := []struct {
		name string
		text string
		want schema.ConfidenceRating
	}{
		{"explicit pair", "Overall assessment... Confidence: MEDIUM due to missing data", schema.ConfidenceMedium},
		{"suffix form", "The figures check out. HIGH CONFIDENCE in this recommendation.", schema.ConfidenceHigh},
		{"rating heading", "Confidence Rating: LOW\nKey metrics could not be validated.", schema.ConfidenceLow},
		{"loose association", "Rating of the analysis is low given sparse document data.", schema.ConfidenceLow},
		{"no rating falls back", "The document looks complete and the math is sound.", schema.ConfidenceHigh},
		{"empty falls back", "", schema.ConfidenceHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractConfidence(tc.text); got != tc.want {
				t.Fatalf("ExtractConfidence(%q) = %s, want %s", tc.text, got, tc.want)
			}
		})
	}
}
