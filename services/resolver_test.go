package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"verifai/models"
	"verifai/providers/semanticscholar"
)

func TestMergeSemanticScholarPrefersLongerTitle(t *testing.T) {
	paper := &models.Paper{Title: "Short Title", Authors: []string{"A"}}
	mergeSemanticScholar(paper, &semanticscholar.PaperResult{
		Title:   "Short Title: The Considerably More Complete Subtitle Edition",
		Authors: []semanticscholar.Author{{Name: "A. Mustermann"}, {Name: "B. Beispiel"}},
	})

	assert.Equal(t, "Short Title: The Considerably More Complete Subtitle Edition", paper.Title)
	assert.Equal(t, []string{"A. Mustermann", "B. Beispiel"}, paper.Authors)
}

func TestMergeSemanticScholarKeepsRicherCrossRefData(t *testing.T) {
	paper := &models.Paper{
		Title:    "A Sufficiently Long CrossRef Title",
		Authors:  []string{"A", "B", "C"},
		Abstract: "CrossRef abstract",
		Year:     "2020",
	}
	mergeSemanticScholar(paper, &semanticscholar.PaperResult{
		Title:    "Shorter",
		Authors:  []semanticscholar.Author{{Name: "X"}},
		Abstract: "anderes Abstract",
		Year:     2019,
	})

	assert.Equal(t, "A Sufficiently Long CrossRef Title", paper.Title)
	assert.Equal(t, []string{"A", "B", "C"}, paper.Authors)
	assert.Equal(t, "CrossRef abstract", paper.Abstract)
	assert.Equal(t, "2020", paper.Year)
}

func TestMergeSemanticScholarFillsGaps(t *testing.T) {
	paper := &models.Paper{Title: "A Title Without Abstract Or Year"}
	mergeSemanticScholar(paper, &semanticscholar.PaperResult{
		Title:    "Tiny",
		Abstract: "endlich ein Abstract",
		Year:     2018,
	})

	assert.Equal(t, "endlich ein Abstract", paper.Abstract)
	assert.Equal(t, "2018", paper.Year)
}
