package extract

import "github.com/fliupa/cni-scrapy/internal/harvest"

// Sentinels written when a field with a visible placeholder finds nothing.
const (
	NameNotFound      = "indicator name not found"
	StandardsNotFound = "standards section not found"
)

// Page vocabulary of the CNI metadata records.
const (
	nameLabel           = "Nombre del Indicador"
	keyIndicatorPrefix  = "Nombre del Indicador Clave:"
	generalSectionClass = "SizeGralApartado"
)

var nameSelectors = []string{
	"#m_treenomIndicador",
	"#lbNombreInd",
	"td.SizeGralTitulo:has(b)",
}

// DefaultSchema is the column layout of the CNI indicator metadata table.
func DefaultSchema() harvest.Schema {
	return harvest.Schema{
		IndexColumn: "Índice",
		URLColumn:   "URL",
		Fields: []harvest.Field{
			{Key: harvest.FieldName, Column: "Nombre del Indicador", Label: nameLabel},
			{Key: "subject", Column: "Tema/Subsistema", Label: "Tema/subtema"},
			{Key: "objective", Column: "Objetivo", Label: "Objetivo"},
			{Key: "definition", Column: "Definición", Label: "Definición"},
			{Key: "unit", Column: "Unidad de medida", Label: "Unidad de medida"},
			{Key: "geographic_coverage", Column: "Cobertura geográfica", Label: "Cobertura geográfica"},
			{Key: "periodicity", Column: "Periodicidad", Label: "Periodicidad"},
			{Key: "reference_period", Column: "Periodo de referencia", Label: "Periodo de referencia"},
			{Key: "timeliness", Column: "Oportunidad", Label: "Oportunidad"},
			{Key: "temporal_coverage", Column: "Cobertura temporal", Label: "Cobertura temporal"},
			{
				Key:    harvest.FieldStandards,
				Column: "Estándares o recomendaciones nacionales y/o internacionales",
				Label:  "Estándares o recomendaciones nacionales y/o internacionales",
			},
			{Key: "observations", Column: "Observaciones", Label: "Observaciones"},
			{Key: "source", Column: "Fuente/Proyecto", Label: "Fuente/Proyecto"},
			{Key: "variable", Column: "Variable", Label: "Variable"},
			{Key: "iin", Column: "IIN", Label: "Información de Interés Nacional"},
		},
	}
}

// DefaultRules builds one rule per schema field: the name and standards
// fields get their own strategy chains, every other field the sibling-row lookup.
func DefaultRules(schema harvest.Schema) []Rule {
	rules := make([]Rule, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		switch f.Key {
		case harvest.FieldName:
			rules = append(rules, NameRule(f.Label))
		case harvest.FieldStandards:
			rules = append(rules, Rule{
				Field:      f.Key,
				Strategies: []Strategy{Standards(f.Label)},
				Missing:    StandardsNotFound,
			})
		default:
			rules = append(rules, Rule{
				Field:      f.Key,
				Strategies: []Strategy{SiblingRow(f.Label)},
			})
		}
	}
	return rules
}

// NameRule prefers lookups against the rendered page and falls back to
// scanning the parsed markup for a label-prefixed sentence.
func NameRule(label string) Rule {
	if label == "" {
		label = nameLabel
	}
	strategies := make([]Strategy, 0, len(nameSelectors)+2)
	for _, sel := range nameSelectors {
		strategies = append(strategies, Selector(sel, keyIndicatorPrefix))
	}
	strategies = append(strategies,
		BoldLabel(keyIndicatorPrefix),
		TextScan(label),
	)
	return Rule{
		Field:      harvest.FieldName,
		Strategies: strategies,
		Missing:    NameNotFound,
	}
}
