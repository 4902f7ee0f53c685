package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/core/internal/remotestore"
)

func TestRenderReportMarkdownSectionOrder(t *testing.T) {
	lead := &remotestore.Lead{
		CompanyName:  "Acme Co",
		URL:          "https://acme.example",
		Grade:        "B",
		OverallScore: 72,
		Scores:       `{"seo": 80, "content": null}`,
		Issues:       `["seo: missing meta description"]`,
		Strengths:    `["fast load time"]`,
	}

	body, err := renderReport(lead, "markdown")
	require.NoError(t, err)

	iOverview := indexOf(body, "## Overview")
	iScores := indexOf(body, "## Scores")
	iIssues := indexOf(body, "## Issues")
	iStrengths := indexOf(body, "## Strengths")
	iRecs := indexOf(body, "## Recommendations")

	require.True(t, iOverview >= 0 && iScores >= 0 && iIssues >= 0 && iStrengths >= 0 && iRecs >= 0)
	assert.True(t, iOverview < iScores)
	assert.True(t, iScores < iIssues)
	assert.True(t, iIssues < iStrengths)
	assert.True(t, iStrengths < iRecs)
	assert.Contains(t, body, "Acme Co")
	assert.Contains(t, body, "fast load time")
}

func TestRenderReportHTMLUsesHeadings(t *testing.T) {
	lead := &remotestore.Lead{CompanyName: "Acme", Grade: "A", OverallScore: 90}
	body, err := renderReport(lead, "html")
	require.NoError(t, err)
	assert.Contains(t, body, "<h2>Overview</h2>")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
