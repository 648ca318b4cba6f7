package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

// DelegateToolName is the delegation-class tool that spawns a sub-agent.
const DelegateToolName = "delegate_task"

// ErrDelegationDepth is returned when a sub-agent would nest too deeply.
var ErrDelegationDepth = errors.New("delegation depth exceeded")

type delegateArgs struct {
	Task      string `json:"task" jsonschema:"description=Self-contained description of the work to hand off"`
	AgentType string `json:"agent_type,omitempty" jsonschema:"description=Profile for the sub-agent; defaults to the caller's"`
}

// DelegateTool hands a task to a nested agent loop. It only works inside a
// run, which supplies the spawner through the context.
type DelegateTool struct{}

var (
	_ tools.Tool    = DelegateTool{}
	_ tools.Untimed = DelegateTool{}
)

func (DelegateTool) Name() string                { return DelegateToolName }
func (DelegateTool) RiskLevel() models.RiskLevel { return models.RiskMedium }
func (DelegateTool) Schema() json.RawMessage     { return tools.ReflectSchema(&delegateArgs{}) }

// NoTimeout exempts delegation from the registry's per-call timeout; the
// sub-agent's backend calls and step budget bound it instead.
func (DelegateTool) NoTimeout() bool { return true }

func (DelegateTool) Description() string {
	return "Hand a self-contained task to a sub-agent and get its final answer back."
}

func (DelegateTool) Validate(args map[string]string) error {
	if strings.TrimSpace(args["task"]) == "" {
		return fmt.Errorf("missing argument: task")
	}
	return nil
}

func (DelegateTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	spawn, ok := ctx.Value(spawnerKey{}).(spawnFunc)
	if !ok {
		return "", errors.New("delegation is only available inside an agent run")
	}
	return spawn(ctx, strings.TrimSpace(args["task"]), strings.TrimSpace(args["agent_type"]))
}

type spawnFunc func(ctx context.Context, task, agentType string) (string, error)

type spawnerKey struct{}

func withSpawner(ctx context.Context, fn spawnFunc) context.Context {
	return context.WithValue(ctx, spawnerKey{}, fn)
}

// spawner runs sub-agents for parent. Their steps are relayed into the
// parent's stream tagged with the sub-agent's profile; the sub-agent keeps
// its own rule state and budget.
func (l *Loop) spawner(parent *run) spawnFunc {
	return func(ctx context.Context, task, agentType string) (string, error) {
		if parent.depth+1 > l.rt.maxDepth {
			err := fmt.Errorf("%w: max depth %d", ErrDelegationDepth, l.rt.maxDepth)
			return "", tools.NewError(DelegateToolName, err).WithType(tools.ErrorLimitExceeded)
		}
		if agentType == "" {
			agentType = parent.profile.Name
		}
		p, err := l.rt.Profile(agentType)
		if err != nil {
			return "", err
		}

		tag := "sub-agent:" + p.Name
		relay := func(s models.Step) error {
			if s.Agent != "" {
				s.Agent = tag + "/" + s.Agent
			} else {
				s.Agent = tag
			}
			parent.step(s)
			if parent.detached {
				return errDetached
			}
			return nil
		}

		child := l.newRun(p, "", parent.depth+1, relay)
		child.provider = parent.provider
		child.provider.MaxTokens = p.MaxTokens
		child.userMsg = task
		child.messages = []models.Message{models.SystemMessage(""), models.UserMessage(task)}

		parent.step(models.Step{Type: models.StepSubAgentSpawn, ToolName: DelegateToolName, Content: task, Agent: tag})
		res := l.execute(ctx, child)
		content := res.Output
		if !res.Success {
			content = res.Error
		}
		parent.step(models.Step{
			Type:      models.StepSubAgentResult,
			ToolName:  DelegateToolName,
			Content:   content,
			Success:   models.Bool(res.Success),
			ErrorCode: res.ErrorCode,
			Agent:     tag,
		})
		if !res.Success {
			err := fmt.Errorf("sub-agent %s failed: %s", p.Name, res.Error)
			return "", tools.NewError(DelegateToolName, err).WithType(tools.ErrorSubAgent)
		}
		return res.Output, nil
	}
}
