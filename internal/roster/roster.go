package roster

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mrg275/proof2pay-agents/internal/config"
	xerrors "github.com/mrg275/proof2pay-agents/internal/errors"
)

// Tier 是封闭的模型档位枚举。
type Tier string

const (
	TierOpus   Tier = "opus"
	TierSonnet Tier = "sonnet"
	TierHaiku  Tier = "haiku"
)

// Cadence 是调度周期枚举，映射为固定天数间隔。
type Cadence string

const (
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
)

// Days 返回周期对应的间隔天数。未配置周期的 worker 不参与定时运行。
func (c Cadence) Days() int {
	switch c {
	case CadenceDaily:
		return 1
	case CadenceWeekly:
		return 7
	case CadenceBiweekly:
		return 14
	default:
		return 0
	}
}

// 上下文注入指令。worker 的 ContextIncludes 决定组装上下文时包含哪些节。
const (
	IncludeProductDocs   = "product_docs"
	IncludePriorities    = "priorities"
	IncludeOwnMemory     = "own_memory"
	IncludeAllSummaries  = "all_agent_summaries"
	IncludeSystemState   = "codebase_context"
	summaryIncludeSuffix = "_summary"
)

// CoordinatorID 是花名册中协调者的固定标识。
const CoordinatorID = "coordinator"

// Worker 是单个专家的不可变静态描述，启动时构建一次，运行期不再修改。
type Worker struct {
	ID              string
	Name            string
	Instructions    string
	Model           Tier
	Schedule        Cadence
	ContextIncludes []string
	Tools           []string
	DefaultTask     string
	Dispatchable    bool
}

// WantsInclude 判断该 worker 是否声明了指定的上下文指令。
func (w Worker) WantsInclude(directive string) bool {
	for _, inc := range w.ContextIncludes {
		if inc == directive {
			return true
		}
	}
	return false
}

// NamedSummaryIncludes 返回指令集中形如 "<worker>_summary" 声明的 worker id 列表。
func (w Worker) NamedSummaryIncludes() []string {
	var ids []string
	for _, inc := range w.ContextIncludes {
		if inc == IncludeAllSummaries {
			continue
		}
		if strings.HasSuffix(inc, summaryIncludeSuffix) {
			ids = append(ids, strings.TrimSuffix(inc, summaryIncludeSuffix))
		}
	}
	return ids
}

// HasTool 判断该 worker 是否声明了指定工具。
func (w Worker) HasTool(name string) bool {
	for _, t := range w.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Roster 是 worker 的只读集合。
type Roster struct {
	workers map[string]Worker
	order   []string
	models  map[Tier]string
}

// New 根据配置构建花名册。指令文件在此处一次性读入。
func New(cfg *config.Config) (*Roster, error) {
	r := &Roster{
		workers: make(map[string]Worker, len(cfg.Workers)),
		models: map[Tier]string{
			TierOpus:   cfg.Models.Opus,
			TierSonnet: cfg.Models.Sonnet,
			TierHaiku:  cfg.Models.Haiku,
		},
	}

	for _, wc := range cfg.Workers {
		instructions := wc.Instructions
		if instructions == "" {
			content, err := os.ReadFile(wc.InstructionsFile)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeMissingInstructions, err,
					fmt.Sprintf("加载 worker %s 的指令文件失败", wc.ID))
			}
			instructions = string(content)
		}

		dispatchable := wc.ID != CoordinatorID
		if wc.Dispatchable != nil {
			dispatchable = *wc.Dispatchable
		}

		r.workers[wc.ID] = Worker{
			ID:              wc.ID,
			Name:            wc.Name,
			Instructions:    instructions,
			Model:           Tier(wc.Model),
			Schedule:        Cadence(wc.Schedule),
			ContextIncludes: append([]string(nil), wc.ContextIncludes...),
			Tools:           append([]string(nil), wc.Tools...),
			DefaultTask:     wc.DefaultTask,
			Dispatchable:    dispatchable,
		}
		r.order = append(r.order, wc.ID)
	}
	return r, nil
}

// Get 按 id 查找 worker。
func (r *Roster) Get(id string) (Worker, bool) {
	w, ok := r.workers[id]
	return w, ok
}

// IDs 按配置顺序返回全部 worker id。
func (r *Roster) IDs() []string {
	return append([]string(nil), r.order...)
}

// DispatchableIDs 返回可被协调者调度的 worker id，排序后作为封闭枚举
// 写入委派工具的入参 schema。
func (r *Roster) DispatchableIDs() []string {
	var ids []string
	for _, id := range r.order {
		if r.workers[id].Dispatchable {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ModelFor 把档位映射到具体模型标识。
func (r *Roster) ModelFor(tier Tier) (string, bool) {
	model, ok := r.models[tier]
	return model, ok
}
