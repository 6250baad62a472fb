// Package e2e provides end-to-end tests with a packed passage corpus and multiple queries.
package e2e

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/retriever"
)

// Topic is one source document in the corpus: a signature phrase that queries
// target and the passages it contributes, one per page.
type Topic struct {
	Source string
	Phrase string
	Pages  []string
}

// QueryTestCase defines a query and the source that must appear in the retrieved passages.
type QueryTestCase struct {
	Query          string
	ExpectedSource string
	Description    string
}

// Corpus holds passages and query test cases for E2E tests.
type Corpus struct {
	Topics    []Topic
	TestCases []QueryTestCase
}

var topics = []Topic{
	{"hypertension.pdf", "thiazide diuretics hypertension", []string{
		"Blood pressure above 140/90 on repeated readings defines hypertension in adults.",
		"Thiazide diuretics hypertension guidance places them first-line for most adults without comorbidities.",
	}},
	{"diabetes.pdf", "metformin type 2 diabetes", []string{
		"Type 2 diabetes is diagnosed with an HbA1c of 48 mmol/mol or higher.",
		"Metformin type 2 diabetes therapy starts at a low dose to limit gastrointestinal upset.",
	}},
	{"asthma.docx", "inhaled corticosteroids asthma", []string{
		"Inhaled corticosteroids asthma maintenance reduces exacerbations and hospital admissions.",
	}},
	{"anticoagulation.pptx", "warfarin INR monitoring", []string{
		"Warfarin INR monitoring is weekly until the target range is stable.",
		"Direct oral anticoagulants need no routine INR checks but require renal dosing.",
	}},
	{"antibiotics.xlsx", "amoxicillin community-acquired pneumonia", []string{
		"Amoxicillin community-acquired pneumonia courses last five days in uncomplicated cases.",
	}},
	{"sepsis.odp", "sepsis fluid resuscitation lactate", []string{
		"Sepsis fluid resuscitation lactate targets guide the first hour of care.",
	}},
	{"renal.ods", "chronic kidney disease eGFR staging", []string{
		"Chronic kidney disease eGFR staging uses five categories from G1 to G5.",
	}},
	{"migraine.txt", "triptans acute migraine", []string{
		"Triptans acute migraine treatment works best when taken early in the attack.",
		"Propranolol and topiramate are options for migraine prevention.",
	}},
	{"thyroid.md", "levothyroxine hypothyroidism TSH", []string{
		"Levothyroxine hypothyroidism dosing is adjusted by TSH every six to eight weeks.",
	}},
	{"gout.pdf", "allopurinol urate gout", []string{
		"Allopurinol urate gout treatment aims for serum urate below 360 micromol/L.",
		"Colchicine or NSAIDs treat acute gout flares.",
	}},
	{"heart-failure.pdf", "heart failure reduced ejection fraction", []string{
		"Heart failure reduced ejection fraction therapy combines four drug classes.",
	}},
	{"copd.pdf", "COPD bronchodilator spirometry", []string{
		"COPD bronchodilator choice follows spirometry confirmation of airflow obstruction.",
	}},
	{"depression.pdf", "SSRIs major depression", []string{
		"SSRIs major depression treatment is reviewed after four weeks for response.",
	}},
	{"osteoporosis.pdf", "bisphosphonates osteoporosis fracture", []string{
		"Bisphosphonates osteoporosis fracture prevention is taken weekly on an empty stomach.",
	}},
	{"anaemia.pdf", "iron deficiency anaemia ferritin", []string{
		"Iron deficiency anaemia ferritin below 30 micrograms per litre confirms depleted stores.",
	}},
	{"stroke.pdf", "thrombolysis acute ischaemic stroke", []string{
		"Thrombolysis acute ischaemic stroke treatment must start within four and a half hours.",
	}},
}

// BuildCorpus returns the clinical corpus and one query per topic phrase.
func BuildCorpus() *Corpus {
	c := &Corpus{Topics: topics}
	for _, t := range topics {
		c.TestCases = append(c.TestCases, QueryTestCase{
			Query:          t.Phrase,
			ExpectedSource: t.Source,
			Description:    fmt.Sprintf("phrase finds %s", t.Source),
		})
	}
	c.TestCases = append(c.TestCases,
		QueryTestCase{"how often is INR checked on warfarin", "anticoagulation.pptx", "question about INR"},
		QueryTestCase{"thiazide for high blood pressure", "hypertension.pdf", "question about hypertension"},
	)
	return c
}

// Entries returns one pack entry per page, embedded with embedder when it is non-nil.
func (c *Corpus) Entries(ctx context.Context, embedder embedding.Embedder) ([]retriever.Entry, error) {
	var out []retriever.Entry
	for _, t := range c.Topics {
		for page, text := range t.Pages {
			e := retriever.Entry{Text: text, Source: t.Source, Page: page}
			if embedder != nil {
				v, err := embedder.Embed(ctx, text)
				if err != nil {
					return nil, err
				}
				e.Vector = v
			}
			out = append(out, e)
		}
	}
	return out, nil
}
