package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mrg275/proof2pay-agents/internal/docs"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
)

// SectionSeparator 分隔上下文的各个节。
const SectionSeparator = "\n\n---\n\n"

// Section 是上下文中的一个命名节。
type Section struct {
	Name    string
	Content string
}

// Assembler 按固定顺序组装任务上下文。顺序是设计契约：越靠后的节
// 在模型注意力中的新近度越高，调用方附加的上下文永远排在最后。
type Assembler struct {
	roster *roster.Roster
	store  memory.Store
	docs   *docs.Provider
}

// NewAssembler 创建上下文组装器。
func NewAssembler(r *roster.Roster, store memory.Store, provider *docs.Provider) *Assembler {
	return &Assembler{roster: r, store: store, docs: provider}
}

// Assemble 为一次任务组装上下文文本。空节被跳过；没有任何内容时返回空串。
// 顺序：产品文档 → 优先级 → 自身摘要 → 全部摘要（协调者）→
// 调用方点名的摘要 → 指令声明的摘要 → 系统状态 → 额外上下文。
func (a *Assembler) Assemble(ctx context.Context, worker roster.Worker, includeSummaries []string, extraContext string) (string, error) {
	var sections []Section

	if worker.WantsInclude(roster.IncludeProductDocs) {
		sections = append(sections, Section{"product_docs", a.productDocsSection()})
	}
	if worker.WantsInclude(roster.IncludePriorities) {
		sections = append(sections, Section{"priorities", a.prioritiesSection()})
	}

	ownSummary, err := a.store.GetSummary(ctx, worker.ID)
	if err != nil {
		return "", err
	}
	sections = append(sections, Section{"own_summary", ownSummarySection(ownSummary)})

	if worker.WantsInclude(roster.IncludeAllSummaries) {
		section, err := a.allSummariesSection(ctx, worker.ID)
		if err != nil {
			return "", err
		}
		sections = append(sections, Section{"all_summaries", section})
	}

	seen := map[string]bool{}
	for _, id := range includeSummaries {
		if id == worker.ID || seen[id] {
			continue
		}
		seen[id] = true
		section, err := a.namedSummarySection(ctx, id)
		if err != nil {
			return "", err
		}
		sections = append(sections, Section{"summary_" + id, section})
	}
	for _, id := range worker.NamedSummaryIncludes() {
		if id == worker.ID || seen[id] {
			continue
		}
		seen[id] = true
		section, err := a.namedSummarySection(ctx, id)
		if err != nil {
			return "", err
		}
		sections = append(sections, Section{"summary_" + id, section})
	}

	if worker.WantsInclude(roster.IncludeSystemState) {
		sections = append(sections, Section{"system_state", a.systemStateSection()})
	}
	if extraContext != "" {
		sections = append(sections, Section{"extra_context", extraContextSection(extraContext)})
	}

	return joinSections(sections), nil
}

func joinSections(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		if section.Content != "" {
			parts = append(parts, section.Content)
		}
	}
	return strings.Join(parts, SectionSeparator)
}

func (a *Assembler) productDocsSection() string {
	content := a.docs.ProductDocs()
	if content == "" {
		return ""
	}
	return "## Product Documentation\n\n" + content
}

func (a *Assembler) prioritiesSection() string {
	content := a.docs.Priorities()
	if content == "" {
		return ""
	}
	return "## Current Priorities\n\n" + content
}

func ownSummarySection(summary string) string {
	if summary == "" {
		return ""
	}
	return "## Your Memory\n\n" + summary
}

func (a *Assembler) allSummariesSection(ctx context.Context, selfID string) (string, error) {
	all, err := a.store.AllSummaries(ctx)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		if id != selfID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("## Agent Summaries")
	for _, id := range ids {
		fmt.Fprintf(&sb, "\n\n### %s\n\n%s", id, all[id])
	}
	return sb.String(), nil
}

func (a *Assembler) namedSummarySection(ctx context.Context, workerID string) (string, error) {
	summary, err := a.store.GetSummary(ctx, workerID)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", nil
	}
	return fmt.Sprintf("## Summary from %s\n\n%s", workerID, summary), nil
}

func (a *Assembler) systemStateSection() string {
	content := a.docs.SystemState()
	if content == "" {
		return ""
	}
	return "## System State\n\n" + content
}

func extraContextSection(extra string) string {
	return "## Additional Context\n\n" + extra
}
