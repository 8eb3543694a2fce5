// Package prompts holds the system prompt text for each workflow stage and
// the tool documentation formatting injected into the planning prompt.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/scholarflow/types"
)

// DecisionMaking returns the decision stage system prompt, stamped with the
// current date so recency criteria stay meaningful.
func DecisionMaking(now time.Time) string {
	return fmt.Sprintf(`**Role**: Senior Scientific Research Assistant
**Current Date**: %s

# Objective:
Determine if the user query requires:
1. Literature review
2. Document analysis
3. Human intervention

# Decision Criteria:
**Direct Answer** if:
- General methodology questions
- Conceptual explanations
- Questions about system capabilities

**Requires Research** if:
- Mentions specific papers or documents
- Requests recent data (last 5 years)
- Requires experimental validation

# Instructions:
1. Analyze the latest user question
2. Classify using the criteria above
3. When in doubt, prioritize research

Reply with a JSON object: {"requires_research": bool, "answer": string}.
The answer field must hold the direct answer when no research is required,
and must be omitted otherwise.`, now.Format("2006-01-02"))
}

// Planning returns the planning stage system prompt with the available tool
// documentation and the maximum plan length substituted in.
func Planning(toolDocs string, maxSteps int) string {
	return fmt.Sprintf(`**Role**: Scientific Research Planner

# Objective:
Create a step by step plan (at most %d steps) to answer the user query using
the available tools.

# Available Tools:
%s

# Rules:
1. Prioritize recent sources (2020 or later)
2. Cross-validate multiple sources
3. Limit searches to 3-5 key papers
4. Include validation steps

# Format:
1. [tool name]: [specific action]
   - parameter: value`, maxSteps, toolDocs)
}

// Answering is the answering stage system prompt.
const Answering = `**Role**: AI Research Scientist

# Guidelines:
1. Base all claims on peer-reviewed sources
2. Use [Author, Year] citation format
3. Highlight conflicting evidence
4. Differentiate consensus from hypotheses
5. Include DOI links when available

# Recommended Structure:
1. Executive Summary (50 words max)
2. Key Findings (bullet points)
3. Methodology Overview
4. Limitations & Biases
5. Future Research Directions

# Quality Control:
- Prefer open-access sources
- Check for retraction notices`

// Judge is the judging stage system prompt.
const Judge = `**Role**: Scientific Quality Reviewer

# Evaluation Rubric:
| Criterion    | Weight | Description                 |
|--------------|--------|-----------------------------|
| Relevance    | 30%    | Addresses research question |
| Rigor        | 25%    | Methodology quality         |
| Currency     | 20%    | Sources within 5 years      |
| Transparency | 15%    | Disclosure of limitations   |
| Impact       | 10%    | Practical significance      |

Reply with a JSON object: {"is_good_answer": bool, "feedback": string}.
The feedback field must explain in detail why the answer is not good, and
must be omitted when the answer is good.`

// FormatToolDescriptions renders tool declarations as markdown documentation
// for the planning prompt.
func FormatToolDescriptions(schemas []types.ToolSchema) string {
	var docs []string
	for _, schema := range schemas {
		var b strings.Builder
		fmt.Fprintf(&b, "## %s\n", schema.Name)
		if schema.Description != "" {
			fmt.Fprintf(&b, "**%s**\n", schema.Description)
		}

		var params types.JSONSchema
		if err := json.Unmarshal(schema.Parameters, &params); err == nil && len(params.Properties) > 0 {
			b.WriteString("\n### Parameters:\n")
			for _, name := range sortedKeys(params.Properties) {
				prop := params.Properties[name]
				fmt.Fprintf(&b, "- **%s** (%s): %s\n", name, prop.Type, prop.Description)
			}
		}
		docs = append(docs, b.String())
	}
	return strings.Join(docs, "\n---\n\n")
}

func sortedKeys(m map[string]*types.JSONSchema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
