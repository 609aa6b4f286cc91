// Package extract turns a rendered metadata page into a harvest.Record using
// ordered fallback rules per field.
package extract

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// ErrEmptyValue is returned by a strategy that found its label but an empty
// value. It ends the rule and leaves the field unset without applying Missing.
var ErrEmptyValue = errors.New("label found with empty value")

// Rule is the ordered strategy chain for one field. The first strategy that
// yields a non-empty value wins. When every strategy comes up empty the field
// is set to Missing, or left unset when Missing is "".
type Rule struct {
	Field      string
	Strategies []Strategy
	Missing    string
}

// Extractor applies a fixed, ordered list of rules to a document.
type Extractor struct {
	rules  []Rule
	logger *zap.Logger
}

// New builds an Extractor from rules applied in the given order.
func New(rules []Rule, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		rules:  append([]Rule(nil), rules...),
		logger: logger,
	}
}

// NewDefault builds an Extractor for schema using DefaultRules.
func NewDefault(schema harvest.Schema, logger *zap.Logger) *Extractor {
	return New(DefaultRules(schema), logger)
}

// Extract runs every rule against doc. It never fails: a strategy error is
// logged and treated as a miss.
func (e *Extractor) Extract(doc harvest.Document) harvest.Record {
	rec := harvest.Record{Fields: make(map[string]string, len(e.rules))}
	for _, rule := range e.rules {
		if v, ok := e.apply(rule, doc); ok {
			rec.Fields[rule.Field] = v
		}
	}
	return rec
}

func (e *Extractor) apply(rule Rule, doc harvest.Document) (string, bool) {
	for _, s := range rule.Strategies {
		v, err := e.run(s, doc)
		if errors.Is(err, ErrEmptyValue) {
			e.logger.Debug("field empty",
				zap.String("field", rule.Field),
				zap.String("strategy", s.Name),
			)
			return "", false
		}
		if err != nil {
			e.logger.Debug("extraction strategy failed",
				zap.String("field", rule.Field),
				zap.String("strategy", s.Name),
				zap.Error(err),
			)
			continue
		}
		if v != "" {
			return v, true
		}
	}
	if rule.Missing != "" {
		return rule.Missing, true
	}
	e.logger.Debug("field not found", zap.String("field", rule.Field))
	return "", false
}

func (e *Extractor) run(s Strategy, doc harvest.Document) (v string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return s.Lookup(doc)
}
