package workflow

import (
	"strings"

	"github.com/ternarybob/genieops/internal/models"
	"github.com/ternarybob/genieops/internal/services/classifier"
)

// MapFields assigns product attributes to form fields. Fields keep the
// purpose the interpreter gave them; fields left as other are matched by
// keyword score against every purpose that is still unassigned. Each field
// receives at most one value and each attribute is used once. Empty
// attributes are never mapped.
func MapFields(structure *models.FormStructure, product *models.Product) []models.FieldValue {
	if structure == nil || product == nil {
		return nil
	}

	attrs := product.Attributes()
	used := make(map[models.Purpose]bool, len(attrs))
	mapped := make([]bool, len(structure.Fields))
	var out []models.FieldValue

	assign := func(i int, p models.Purpose) {
		out = append(out, models.FieldValue{
			Selector: structure.Fields[i].Selector,
			Value:    attrs[p],
			Purpose:  p,
		})
		used[p] = true
		mapped[i] = true
	}

	for i, field := range structure.Fields {
		p := field.Purpose
		if p == models.PurposeOther || p == "" || used[p] || attrs[p] == "" {
			continue
		}
		if !accepts(field, p) {
			continue
		}
		assign(i, p)
	}

	for i, field := range structure.Fields {
		if mapped[i] || field.Purpose != models.PurposeOther {
			continue
		}
		best := models.PurposeOther
		bestScore := 0
		for _, p := range models.KnownPurposes {
			if used[p] || attrs[p] == "" || !accepts(field, p) {
				continue
			}
			if score := classifier.KeywordScore(field.Text(), p); score > bestScore {
				best, bestScore = p, score
			}
		}
		if bestScore > 0 {
			assign(i, best)
		}
	}

	return out
}

// accepts reports whether a control of the field's kind can take a value
// of purpose p. File inputs only take the logo.
func accepts(field models.FormField, p models.Purpose) bool {
	isFile := strings.EqualFold(field.Type, "file")
	if isFile {
		return p == models.PurposeLogo
	}
	if p == models.PurposeLogo {
		return !strings.EqualFold(field.Type, "select")
	}
	return true
}
