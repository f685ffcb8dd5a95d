package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cih1996/AI-intelligent-agent-system/internal/jsonlenient"
	"github.com/cih1996/AI-intelligent-agent-system/internal/memory"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
)

// selectCategories calls the Memory Manager agent with the cid's outline
// index and a target-agent label, returning the categories it judges
// relevant (spec §4.5 stage 1).
func (o *Orchestrator) selectCategories(ctx context.Context, bundle *AgentBundle, cid, userInput, label string) ([]string, error) {
	outlines, err := o.memory.ScanOutlines(cid)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scan outlines: %w", err)
	}
	outlineJSON, err := json.Marshal(outlines)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal outline: %w", err)
	}

	bundle.MemoryManager.UpdateSystemPrompt(map[string]string{"MEMORY_OUTLINE": string(outlineJSON)})
	prompt := fmt.Sprintf("%s\n(目标AI: %s)", userInput, label)
	completion, err := bundle.MemoryManager.Chat(ctx, prompt, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: memory manager chat: %w", err)
	}

	var categories []string
	if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeArray, &categories); err != nil {
		return nil, fmt.Errorf("orchestrator: parse memory manager reply: %w", err)
	}
	return categories, nil
}

// routeMemory calls the Memory Router agent to pick specific shard paths
// out of the selected categories' keys, resolves each, and renders the
// markdown block defined by spec §4.5 stage 1's format contract. Missing
// categories silently contribute nothing.
func (o *Orchestrator) routeMemory(ctx context.Context, bundle *AgentBundle, cid string, categories []string, userInput, targetLabel string) (string, error) {
	index := make(map[string][]string, len(categories))
	for _, category := range categories {
		for _, shard := range o.memory.LoadCategory(cid, category) {
			index[category] = append(index[category], shard.Key)
		}
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal category index: %w", err)
	}

	bundle.MemoryRouter.UpdateSystemPrompt(map[string]string{"CATEGORY_INDEX": string(indexJSON)})
	prompt := fmt.Sprintf("%s\n(目标AI: %s)", userInput, targetLabel)
	completion, err := bundle.MemoryRouter.Chat(ctx, prompt, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return "", fmt.Errorf("orchestrator: memory router chat: %w", err)
	}

	var paths []string
	if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeArray, &paths); err != nil {
		return "", fmt.Errorf("orchestrator: parse memory router reply: %w", err)
	}

	shards := make([]*memory.Shard, 0, len(paths))
	resolvedPaths := make([]string, 0, len(paths))
	for _, path := range paths {
		if shard := o.memory.ResolvePath(cid, path); shard != nil {
			shards = append(shards, shard)
			resolvedPaths = append(resolvedPaths, path)
		}
	}
	return memory.RenderMarkdown(shards, resolvedPaths), nil
}

// memoryMarkdownFor runs the full Memory Manager -> Memory Router
// sequence for one target-agent label (spec §4.5 stage 1 and stage 5 —
// the latter reuses this with a different label and combined text, which
// is the intentional duplicate call of spec §9).
func (o *Orchestrator) memoryMarkdownFor(ctx context.Context, bundle *AgentBundle, cid, text, label string) (string, error) {
	categories, err := o.selectCategories(ctx, bundle, cid, text, label)
	if err != nil {
		return "", err
	}
	return o.routeMemory(ctx, bundle, cid, categories, text, label)
}
