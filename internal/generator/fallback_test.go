package generator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answerBody(s string) string {
	body, _, _ := strings.Cut(s, "\n\n---\n")
	return body
}

func TestExtractive_SurfacesMatchingSentence(t *testing.T) {
	ctx := "Metformin is first-line therapy for type 2 diabetes. It reduces hepatic glucose output."
	got := Extractive("diabetes treatment", ctx, "")
	assert.Equal(t, "Metformin is first-line therapy for type 2 diabetes.", answerBody(got))
}

func TestExtractive_RanksMatchAboveFiller(t *testing.T) {
	ctx := strings.Join([]string{
		"The hospital cafeteria is open from seven in the morning until eight at night.",
		"Parking permits are issued by the facilities office on the ground floor.",
		"Metformin is first-line therapy for type 2 diabetes in most adult patients.",
	}, "\n")
	got := answerBody(Extractive("diabetes treatment", ctx, ""))
	assert.Equal(t, "Metformin is first-line therapy for type 2 diabetes in most adult patients.", got)
}

func TestExtractive_TiesKeepContextOrder(t *testing.T) {
	a := "Aspirin is recommended after acute coronary syndrome in most patients."
	b := "Aspirin should be avoided in children because of the risk of Reye syndrome."
	c := "Aspirin and clopidogrel together increase the risk of gastrointestinal bleeding."
	got := answerBody(Extractive("aspirin", strings.Join([]string{a, b, c}, "\n"), ""))
	assert.Equal(t, a+" "+b+" "+c, got)
}

func TestExtractive_HigherScoreFirstAndTopFour(t *testing.T) {
	lines := []string{
		"Insulin dosing is adjusted based on capillary glucose readings in hospital.",
		"Insulin resistance and obesity together drive hyperglycaemia in type 2 diabetes.",
		"Insulin pens are stored in the refrigerator before first use by the patient.",
		"Insulin pumps deliver a continuous basal rate through a subcutaneous cannula.",
		"Insulin analogues have a faster onset than regular human insulin preparations.",
	}
	got := answerBody(Extractive("insulin diabetes", strings.Join(lines, "\n"), ""))
	want := strings.Join([]string{lines[1], lines[0], lines[2], lines[3]}, " ")
	assert.Equal(t, want, got)
}

func TestExtractive_ShortQueryWordsIgnored(t *testing.T) {
	ctx := "The dose of the drug is set by the attending physician each morning.\n" +
		"A second unrelated sentence that is also comfortably longer than fifty chars.\n" +
		"A third unrelated sentence that is also comfortably longer than fifty chars.\n" +
		"A fourth unrelated sentence that is also comfortably longer than fifty chars."
	// every query word is shorter than four runes, so nothing scores and the first three are used
	got := answerBody(Extractive("the is of", ctx, ""))
	lines := strings.Split(ctx, "\n")
	assert.Equal(t, lines[0]+" "+lines[1]+" "+lines[2], got)
}

func TestExtractive_ScoringPoolIsThirty(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("Filler sentence number %02d that talks about nothing relevant here.", i))
	}
	lines = append(lines, "Warfarin requires regular INR monitoring to keep anticoagulation in range.")
	got := answerBody(Extractive("warfarin monitoring", strings.Join(lines, "\n"), ""))
	assert.NotContains(t, got, "Warfarin", "sentence 31 is outside the scoring pool")
	assert.Equal(t, strings.Join(lines[:3], " "), got)
}

func TestExtractive_SplitsOnPeriodSpaceAndNormalizes(t *testing.T) {
	ctx := "Beta blockers reduce mortality after myocardial infarction in adults. " +
		"They are contraindicated in severe asthma and second degree heart block"
	got := answerBody(Extractive("asthma", ctx, ""))
	assert.Equal(t, "They are contraindicated in severe asthma and second degree heart block.", got)
}

func TestExtractive_DegenerateInputs(t *testing.T) {
	short := "Short context."
	// lines of forty runes never become candidate sentences
	long := strings.Repeat(strings.Repeat("x", 40)+"\n", 20)

	tests := []struct {
		name, query, context, want string
	}{
		{"empty context", "anything", "", "No context available."},
		{"whitespace context", "anything", "  \n\t", "No context available."},
		{"short context used raw", "anything", short, short},
		{"raw context truncated", "anything", long, long[:500]},
		{"empty query and context", "", "", "No context available."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extractive(tt.query, tt.context, "")
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, answerBody(got))
		})
	}
}

func TestExtractive_Notice(t *testing.T) {
	got := Extractive("q", "", "")
	assert.Contains(t, got, "Fallback mode active")
	assert.Contains(t, got, "OPENROUTER_API_KEY")
	assert.True(t, strings.HasSuffix(got, "Error: API key not configured"))

	got = Extractive("q", "", "remote initialization failed: backend error 401: bad key")
	assert.True(t, strings.HasSuffix(got, "Error: remote initialization failed: backend error 401: bad key"))
}

func TestCandidateSentences(t *testing.T) {
	exact50 := strings.Repeat("a", 50)
	got := candidateSentences(exact50 + "\n" + exact50 + "b")
	assert.Equal(t, []string{exact50 + "b."}, got, "lines of exactly fifty runes are discarded")
}

func TestQueryWords(t *testing.T) {
	assert.Equal(t, []string{"diabetes", "treatment"}, queryWords("Diabetes treatment for DIABETES the"))
	assert.Empty(t, queryWords(""))
}
