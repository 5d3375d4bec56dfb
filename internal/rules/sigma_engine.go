package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"secuflow/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledSigmaRule struct {
	id    string
	title string
	level string
	eval  *sigmaevaluator.RuleEvaluator
}

// SigmaEngine evaluates single-event Sigma rules against log records.
type SigmaEngine struct {
	rules []compiledSigmaRule
}

// NewSigmaEngine loads Sigma rules from a file or directory and compiles evaluators.
// Rules for other platforms and correlation rules are skipped and counted in stats.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !entry.IsDir() && isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !isWindowsCompatible(rule) {
			stats.SkippedDatasource++
			continue
		}
		if !isSingleEventRule(rule) {
			stats.SkippedComplex++
			continue
		}

		id := strings.TrimSpace(rule.ID)
		if id == "" {
			id = strings.TrimSpace(rule.Title)
		}
		compiled = append(compiled, compiledSigmaRule{
			id:    id,
			title: strings.TrimSpace(rule.Title),
			level: strings.ToLower(strings.TrimSpace(rule.Level)),
			eval:  sigmaevaluator.ForRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaEngine{rules: compiled}, stats, nil
}

// Match evaluates every rule against every record and returns the rules that hit,
// most frequent first.
func (e *SigmaEngine) Match(records []models.LogRecord) []models.RuleMatch {
	if e == nil || len(e.rules) == 0 || len(records) == 0 {
		return nil
	}

	ctx := context.Background()
	var out []models.RuleMatch
	for _, rule := range e.rules {
		hit := models.RuleMatch{RuleID: rule.id, Title: rule.title, Level: rule.level}
		seen := make(map[string]struct{})
		for _, rec := range records {
			res, err := rule.eval.Matches(ctx, sigmaEventFrom(rec))
			if err != nil || !res.Match {
				continue
			}
			hit.Count++
			id := rec.EventID()
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				hit.EventIDs = append(hit.EventIDs, id)
			}
		}
		if hit.Count > 0 {
			out = append(out, hit)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// Len returns the number of loaded rules.
func (e *SigmaEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isWindowsCompatible(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	return product == "" || product == "windows"
}

func isSingleEventRule(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil || !isPlainExpression(cond.Search) {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func isPlainExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isPlainExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isPlainExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isPlainExpression(e.Expr)
	default:
		return false
	}
}

// sigmaEventFrom flattens a record and adds the field names Windows Sigma rules use.
func sigmaEventFrom(rec models.LogRecord) map[string]interface{} {
	buf := make(map[string]interface{}, len(rec)+3)
	for k, v := range rec {
		buf[k] = v
	}
	buf["EventID"] = rec.EventID()
	buf["Provider_Name"] = rec.Source()
	if msg, ok := rec[models.FieldMessage]; ok {
		buf["Message"] = msg
	}
	return buf
}
