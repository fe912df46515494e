package formreader

import (
	"fmt"

	"github.com/ternarybob/genieops/internal/models"
)

// uncommonInputTypes push a form into the complex bucket
var uncommonInputTypes = map[string]bool{
	"color": true,
	"range": true,
	"date":  true,
	"time":  true,
	"month": true,
	"week":  true,
}

// Complexity is the heuristic verdict on whether the LLM strategy is worth
// invoking for a DOM result
type Complexity struct {
	Complex    bool     `json:"complex"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// AssessComplexity flags forms with many fields, many unclassified fields or
// uncommon input kinds
func AssessComplexity(structure *models.FormStructure, fieldThreshold int, otherRatio float64) Complexity {
	c := Complexity{Confidence: 0.5}
	if structure == nil || len(structure.Fields) == 0 {
		return c
	}

	total := len(structure.Fields)
	if total > fieldThreshold {
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d fields exceeds %d", total, fieldThreshold))
	}

	others := structure.CountPurpose(models.PurposeOther)
	if ratio := float64(others) / float64(total); ratio > otherRatio {
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d of %d fields unclassified", others, total))
	}

	for _, f := range structure.Fields {
		if uncommonInputTypes[f.Type] {
			c.Reasons = append(c.Reasons, fmt.Sprintf("uncommon input type %s", f.Type))
			break
		}
	}

	c.Complex = len(c.Reasons) > 0
	// more independent signals make the call more certain either way
	switch len(c.Reasons) {
	case 0:
		c.Confidence = 0.7
	case 1:
		c.Confidence = 0.6
	default:
		c.Confidence = 0.8
	}
	return c
}
