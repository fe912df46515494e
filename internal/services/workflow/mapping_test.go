package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/genieops/internal/models"
)

func acme() *models.Product {
	return &models.Product{
		ID:           "prd_acme",
		Name:         "Acme",
		URL:          "https://acme.io",
		ContactEmail: "a@acme.io",
	}
}

func TestMapFields_PurposeMatch(t *testing.T) {
	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#name", Type: "text", Name: "name", Purpose: models.PurposeName},
		{Selector: "#url", Type: "url", Name: "url", Purpose: models.PurposeURL},
		{Selector: "#email", Type: "email", Name: "email", Purpose: models.PurposeEmail},
	}}

	got := MapFields(structure, acme())

	assert.Equal(t, []models.FieldValue{
		{Selector: "#name", Value: "Acme", Purpose: models.PurposeName},
		{Selector: "#url", Value: "https://acme.io", Purpose: models.PurposeURL},
		{Selector: "#email", Value: "a@acme.io", Purpose: models.PurposeEmail},
	}, got)
}

func TestMapFields_SkipsEmptyAttributes(t *testing.T) {
	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#name", Type: "text", Purpose: models.PurposeName},
		{Selector: "#desc", Type: "textarea", Purpose: models.PurposeDescription},
		{Selector: "#cat", Type: "select", Purpose: models.PurposeCategory, Options: []string{"SaaS"}},
	}}

	got := MapFields(structure, acme())

	assert.Len(t, got, 1)
	assert.Equal(t, "#name", got[0].Selector)
}

func TestMapFields_KeywordFallbackForOther(t *testing.T) {
	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#f1", Type: "text", Name: "listing_title", Purpose: models.PurposeOther},
		{Selector: "#f2", Type: "text", Name: "zzz", Label: "Your homepage", Purpose: models.PurposeOther},
		{Selector: "#f3", Type: "text", Name: "qqq", Purpose: models.PurposeOther},
	}}

	got := MapFields(structure, acme())

	assert.Equal(t, []models.FieldValue{
		{Selector: "#f1", Value: "Acme", Purpose: models.PurposeName},
		{Selector: "#f2", Value: "https://acme.io", Purpose: models.PurposeURL},
	}, got)
}

func TestMapFields_EachAttributeOnce(t *testing.T) {
	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#product", Type: "text", Purpose: models.PurposeName},
		{Selector: "#company", Type: "text", Purpose: models.PurposeName},
		{Selector: "#maker_name", Type: "text", Name: "maker_name", Purpose: models.PurposeOther},
	}}

	got := MapFields(structure, acme())

	assert.Len(t, got, 1)
	assert.Equal(t, "#product", got[0].Selector)
}

func TestMapFields_FileInputsOnlyTakeLogo(t *testing.T) {
	product := acme()
	product.LogoPath = "https://acme.io/logo.png"

	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#upload", Type: "file", Name: "product_name_image", Purpose: models.PurposeName},
		{Selector: "#logo", Type: "file", Name: "logo", Purpose: models.PurposeLogo},
	}}

	got := MapFields(structure, product)

	assert.Equal(t, []models.FieldValue{
		{Selector: "#logo", Value: "https://acme.io/logo.png", Purpose: models.PurposeLogo},
	}, got)
}

func TestMapFields_NoMatch(t *testing.T) {
	structure := &models.FormStructure{Fields: []models.FormField{
		{Selector: "#a", Type: "text", Name: "zzz", Purpose: models.PurposeOther},
	}}

	assert.Empty(t, MapFields(structure, acme()))
	assert.Nil(t, MapFields(nil, acme()))
}
