package formreader

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
	"github.com/ternarybob/genieops/internal/models"
)

// Strategy names accepted by form_reader.strategy
const (
	StrategyHybrid = "hybrid"
	StrategyDOM    = "dom"
	StrategyLLM    = "llm"
)

// PageSource gives the interpreter access to the live page
type PageSource interface {
	// ExtractFormFields runs the DOM strategy against the live page
	ExtractFormFields(ctx context.Context) (*models.FormStructure, error)
	// PageHTML returns the rendered page HTML
	PageHTML(ctx context.Context) (string, error)
}

// Analysis is the interpreter output plus how it was produced
type Analysis struct {
	Structure  *models.FormStructure
	Strategy   string
	Complexity Complexity
	LLMError   string
}

// Interpreter implements the hybrid form analysis policy
type Interpreter struct {
	strategy       string
	llm            *LLMStrategy
	fieldThreshold int
	otherRatio     float64
	logger         arbor.ILogger
}

// NewInterpreter creates an interpreter. A nil backend degrades to DOM-only.
func NewInterpreter(cfg *common.FormReaderConfig, llmCfg *common.LLMConfig, backend interfaces.FormInterpreterBackend, logger arbor.ILogger) *Interpreter {
	return &Interpreter{
		strategy:       cfg.Strategy,
		llm:            NewLLMStrategy(backend, cfg.MaxHTMLChars, cfg.MaxInputs, llmCfg.Temperature, logger),
		fieldThreshold: cfg.ComplexFieldThreshold,
		otherRatio:     cfg.OtherRatioThreshold,
		logger:         logger,
	}
}

// Analyze interprets the page's primary form. The DOM result is always
// computed first and is never lost: LLM output can only enrich it.
func (i *Interpreter) Analyze(ctx context.Context, page PageSource) (*Analysis, error) {
	start := time.Now()

	dom, err := page.ExtractFormFields(ctx)
	if err != nil {
		return nil, err
	}
	if dom == nil {
		dom = &models.FormStructure{Fields: []models.FormField{}, Error: ErrNoFormElements, Source: SourceDOM}
	}

	analysis := &Analysis{Structure: dom, Strategy: StrategyDOM}
	analysis.Complexity = AssessComplexity(dom, i.fieldThreshold, i.otherRatio)

	wantLLM := false
	switch i.strategy {
	case StrategyLLM:
		wantLLM = true
	case StrategyHybrid, "":
		wantLLM = analysis.Complexity.Complex
	}
	if !wantLLM || !i.llm.Available() {
		i.logAnalysis(analysis, start)
		return analysis, nil
	}

	html, err := page.PageHTML(ctx)
	if err != nil {
		analysis.LLMError = fmt.Sprintf("page content unavailable: %v", err)
		i.logAnalysis(analysis, start)
		return analysis, nil
	}

	llmResult, err := i.llm.Analyze(ctx, html)
	if err != nil {
		analysis.LLMError = err.Error()
		i.logAnalysis(analysis, start)
		return analysis, nil
	}
	if llmResult.Degraded() {
		analysis.LLMError = llmResult.Error
		i.logAnalysis(analysis, start)
		return analysis, nil
	}

	merged, improved := Merge(dom, llmResult)
	if dom.Degraded() && len(llmResult.Fields) > 0 {
		merged = llmResult
		improved = true
	}
	if improved {
		analysis.Structure = merged
		analysis.Strategy = StrategyHybrid
		if dom.Degraded() {
			analysis.Strategy = StrategyLLM
		}
	}
	i.logAnalysis(analysis, start)
	return analysis, nil
}

func (i *Interpreter) logAnalysis(a *Analysis, start time.Time) {
	event := i.logger.Debug()
	if a.LLMError != "" {
		event = i.logger.Warn().Str("llm_error", a.LLMError)
	}
	event.
		Str("strategy", a.Strategy).
		Int("fields", len(a.Structure.Fields)).
		Bool("complex", a.Complexity.Complex).
		Dur("duration", time.Since(start)).
		Msg("Form analysis complete")
}

// Merge enriches the DOM result with the LLM result. LLM purposes replace
// only DOM purposes of other, and the LLM submit control is used only when
// the DOM found none. Returns whether anything changed.
func Merge(dom, llm *models.FormStructure) (*models.FormStructure, bool) {
	merged := dom.Clone()
	merged.Source = SourceHybrid
	improved := false

	byselector := make(map[string]models.FormField, len(llm.Fields))
	for _, f := range llm.Fields {
		byselector[f.Selector] = f
	}

	for idx := range merged.Fields {
		field := &merged.Fields[idx]
		if field.Purpose != models.PurposeOther {
			continue
		}
		if candidate, ok := byselector[field.Selector]; ok && candidate.Purpose != models.PurposeOther {
			field.Purpose = candidate.Purpose
			improved = true
		}
	}

	if merged.Submit == nil && llm.Submit != nil {
		submit := *llm.Submit
		merged.Submit = &submit
		improved = true
	}

	if !improved {
		return dom, false
	}
	return merged, true
}
