package agent

import (
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/phase"
	"github.com/jorge-barreto/patchr/internal/pipeline"
)

// Phases wires the default agents into the pipeline's phase graph. client
// may be nil, in which case extraction uses heuristics and generation fails.
func Phases(client llm.Client) pipeline.Phases {
	return pipeline.Phases{
		Extract:   phase.Extract{Agent: &Extractor{LLM: client}},
		Recall:    phase.Recall{Agent: &Recaller{}},
		Decompose: phase.Decompose{Agent: &Decomposer{LLM: client}},
		Generate:  phase.Generate{Agent: &Generator{LLM: client}},
		Recap:     phase.Recap{Agent: &Recapper{LLM: client}},
	}
}
