// Package analysis defines the fixed financial-document pipeline: market
// research, then financial analysis, then verification. Later stages
// condition on the text of earlier ones, which is why the chain is strictly
// sequential.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/umar7shaikh/financial-document-analyzer/internal/pipeline"
	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// Provider is the external reasoning provider a stage calls. The stage
// content is delegated entirely; this package only shapes prompts and
// threads prior outputs through.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// maxDocumentChars bounds how much document text is sent per stage.
const maxDocumentChars = 12000

const researcherSystem = `You are a senior market research analyst who delivers concise, high-impact reports ` +
	`in 600-800 words. Focus on actionable insights over lengthy descriptions: identify the most critical ` +
	`market factors that impact investment decisions, with specific numbers, dates, and clear implications. ` +
	`Every sentence adds value - no filler content.`

const analystSystem = `You are a top-tier financial analyst who produces complete but concise analysis ` +
	`in 800-1000 words. Extract all critical financial metrics from the document efficiently. Your analysis ` +
	`includes: executive summary (100 words), key metrics (5-7 ratios), a clear BUY/HOLD/SELL recommendation ` +
	`with 3 specific reasons, and integrated market context. Eliminate redundancy; every metric you include ` +
	`directly supports your conclusion.`

const verifierSystem = `You are a meticulous verification expert who delivers focused validation reports ` +
	`in 400-500 words. Cross-check key financial data, validate the analysis logic, and provide a clear ` +
	`confidence rating (HIGH/MEDIUM/LOW) with specific reasoning. Focus on: data accuracy of the top 5 ` +
	`metrics, recommendation logic soundness, and market integration consistency. State the rating ` +
	`explicitly as "Confidence: HIGH|MEDIUM|LOW".`

// Stages builds the ordered pipeline backed by the given provider.
func Stages(p Provider) []pipeline.Stage {
	return []pipeline.Stage{
		{Name: schema.StageMarketResearch, Execute: func(ctx context.Context, pc *pipeline.Context) (string, error) {
			user := fmt.Sprintf(
				"Research current market trends and economic data related to: %s\n\nDocument excerpt:\n%s",
				pc.Query, truncate(pc.DocumentText, maxDocumentChars),
			)
			return p.Complete(ctx, researcherSystem, user)
		}},
		{Name: schema.StageFinancialAnalysis, Execute: func(ctx context.Context, pc *pipeline.Context) (string, error) {
			user := fmt.Sprintf(
				"Provide comprehensive financial analysis for: %s\n\nDocument:\n%s\n\nMarket research findings:\n%s",
				pc.Query,
				truncate(pc.DocumentText, maxDocumentChars),
				pc.Output(schema.StageMarketResearch),
			)
			return p.Complete(ctx, analystSystem, user)
		}},
		{Name: schema.StageVerification, Execute: func(ctx context.Context, pc *pipeline.Context) (string, error) {
			user := fmt.Sprintf(
				"Verify the following analysis of the document for accuracy and completeness.\n\n"+
					"Original query: %s\n\nMarket research:\n%s\n\nFinancial analysis:\n%s\n\nDocument excerpt:\n%s",
				pc.Query,
				pc.Output(schema.StageMarketResearch),
				pc.Output(schema.StageFinancialAnalysis),
				truncate(pc.DocumentText, maxDocumentChars),
			)
			return p.Complete(ctx, verifierSystem, user)
		}},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + "\n[document truncated]"
}
