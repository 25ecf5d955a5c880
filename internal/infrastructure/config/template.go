package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thinkinglens/backend/internal/domain/prd"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate 内置 PRD 章节模板
// plan 阶段据此构建章节注册表；依赖关系必须无环（构建期校验）
func DefaultTemplate() *prd.Template {
	return &prd.Template{
		Sections: []prd.SectionTemplate{
			{
				Key:       "problem_statement",
				Title:     "Problem Statement",
				Mandatory: true,
				Checklist: []string{
					"Problem is clearly defined and specific",
					"Target users/personas are identified",
					"Pain points are quantified where possible",
					"Current solutions' limitations are addressed",
				},
			},
			{
				Key:          "goals",
				Title:        "Goals & Objectives",
				Mandatory:    true,
				Dependencies: []string{"problem_statement"},
				Checklist: []string{
					"Primary goal is measurable and time-bound",
					"Secondary goals are listed",
					"Goals align with problem statement",
					"Business impact is articulated",
				},
			},
			{
				Key:          "success_metrics",
				Title:        "Success Metrics",
				Mandatory:    true,
				Dependencies: []string{"goals"},
				Checklist: []string{
					"Each metric has baseline, target, and timeframe",
					"Metrics owner is assigned",
					"Data source/measurement method is specified",
					"Leading and lagging indicators are included",
				},
			},
			{
				Key:          "user_personas",
				Title:        "User Personas",
				Mandatory:    true,
				Dependencies: []string{"problem_statement"},
				Checklist: []string{
					"Primary persona is detailed with demographics",
					"User needs and pain points are specified",
					"User journey touchpoints are identified",
					"Secondary personas are briefly described",
				},
			},
			{
				Key:          "core_features",
				Title:        "Core Features",
				Mandatory:    true,
				Dependencies: []string{"user_personas", "goals"},
				Checklist: []string{
					"Features directly address user needs",
					"MVP features are prioritized",
					"Feature requirements are specific",
					"Technical feasibility is considered",
				},
			},
			{
				Key:          "user_flows",
				Title:        "User Flows",
				Mandatory:    true,
				Dependencies: []string{"core_features", "user_personas"},
				Checklist: []string{
					"Key user journeys are mapped",
					"Happy path and edge cases are covered",
					"Flow steps reference specific features",
					"User personas are connected to flows",
				},
			},
			{
				Key:          "technical_architecture",
				Title:        "Technical Architecture",
				Mandatory:    false,
				Dependencies: []string{"core_features"},
				TriggerKeywords: []string{
					"architecture", "integration", "api", "realtime", "real-time", "platform",
				},
				Checklist: []string{
					"High-level system components are defined",
					"Data flow is outlined",
					"Integration points are specified",
					"Scalability considerations are addressed",
				},
			},
			{
				Key:       "constraints",
				Title:     "Constraints & Assumptions",
				Mandatory: true,
				Checklist: []string{
					"Technical constraints are listed",
					"Business constraints are specified",
					"Resource limitations are acknowledged",
					"Key assumptions are documented",
				},
			},
			{
				Key:          "risks",
				Title:        "Risks & Mitigation",
				Mandatory:    true,
				Dependencies: []string{"core_features"},
				Checklist: []string{
					"Technical risks are identified",
					"Market/competitive risks are listed",
					"Mitigation strategies are provided",
					"Risk probability and impact are assessed",
				},
			},
			{
				Key:          "timeline",
				Title:        "Timeline & Milestones",
				Mandatory:    true,
				Dependencies: []string{"core_features"},
				Checklist: []string{
					"Key milestones are defined",
					"Dependencies between milestones are clear",
					"Resource allocation is considered",
					"Buffer time for unknowns is included",
				},
			},
			{
				Key:          "compliance",
				Title:        "Compliance & Regulatory",
				Mandatory:    false,
				Dependencies: []string{"constraints"},
				TriggerKeywords: []string{
					"hipaa", "gdpr", "pci", "sox", "finance", "financial", "health", "medical", "insurance", "regulated",
				},
				Checklist: []string{
					"Applicable regulations are identified",
					"Data handling requirements are specified",
					"Audit/reporting obligations are listed",
				},
			},
		},
	}
}

// LoadTemplate 加载章节模板
// 数据目录存在 template.yaml 时使用自定义模板，否则使用内置模板
// 自定义模板同样必须通过无环校验
func LoadTemplate() (*prd.Template, error) {
	path := filepath.Join(GetDataDir(), "template.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTemplate(), nil
		}
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var tpl prd.Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}
	if len(tpl.Sections) == 0 {
		return nil, fmt.Errorf("template file %s defines no sections", path)
	}

	// 将所有章节视为纳入构建一次注册表，验证依赖整体无环
	full := prd.Template{Sections: make([]prd.SectionTemplate, len(tpl.Sections))}
	copy(full.Sections, tpl.Sections)
	for i := range full.Sections {
		full.Sections[i].Mandatory = true
	}
	if _, err := prd.NewRegistry(&full, ""); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return &tpl, nil
}
