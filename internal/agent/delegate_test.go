package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentd/internal/llm/llmtest"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

func TestDelegationRelaysTaggedSteps(t *testing.T) {
	backend := llmtest.New(
		tagged(DelegateToolName, map[string]string{"task": "summarize the notes"}),
		"The notes are short.",
		"Summary delivered.",
	)
	f := newFixture(t, backend, nil)
	res := f.run(t, Request{Message: "delegate please"})

	if !res.Success || res.Output != "Summary delivered." {
		t.Fatalf("result = %+v", res)
	}
	assertTypes(t, res.Steps,
		models.StepToolCall,
		models.StepSubAgentSpawn,
		models.StepFinalAnswer,
		models.StepSubAgentResult,
		models.StepToolResult,
		models.StepFinalAnswer,
	)
	assertSequential(t, res.Steps)

	tag := "sub-agent:" + ProfileGeneral
	for _, i := range []int{1, 2, 3} {
		if res.Steps[i].Agent != tag {
			t.Fatalf("step %d agent = %q", i, res.Steps[i].Agent)
		}
		if res.Steps[i].RunID != res.RunID {
			t.Fatalf("relayed step %d run id = %q", i, res.Steps[i].RunID)
		}
	}
	if res.Steps[0].Agent != "" || res.Steps[5].Agent != "" {
		t.Fatal("parent steps must not be tagged")
	}
	if len(res.ToolResults) != 1 || res.ToolResults[0].Output != "The notes are short." {
		t.Fatalf("tool results = %+v", res.ToolResults)
	}

	sub := backend.Calls()[1]
	if len(sub) != 2 || sub[1].Content != "summarize the notes" {
		t.Fatalf("sub-agent conversation = %+v", sub)
	}
}

func TestDelegationDepthLimit(t *testing.T) {
	backend := llmtest.New(
		tagged(DelegateToolName, map[string]string{"task": "level one"}),
		tagged(DelegateToolName, map[string]string{"task": "level two"}),
		"Could not go deeper.",
		"Parent done.",
	)
	f := newFixture(t, backend, func(c *Config) { c.MaxDelegationDepth = 1 })
	res := f.run(t, Request{Message: "nest"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	var nested *models.Step
	for i := range res.Steps {
		s := res.Steps[i]
		if s.Type == models.StepToolResult && s.Agent != "" {
			nested = &s
		}
	}
	if nested == nil {
		t.Fatal("no relayed tool result")
	}
	if *nested.Success || !strings.Contains(nested.Content, "depth") {
		t.Fatalf("nested result = %+v", nested)
	}
}

func TestDelegationOutlivesToolTimeout(t *testing.T) {
	backend := llmtest.New(
		tagged(DelegateToolName, map[string]string{"task": "two slow turns"}),
		tagged("echo", map[string]string{"text": "halfway"}),
		"Sub-agent finished.",
		"Parent done.",
	)
	backend.Delay = 30 * time.Millisecond

	reg := tools.NewRegistry(tools.RegistryConfig{Timeout: 50 * time.Millisecond})
	reg.Register(&tools.Func{ToolName: "echo", Fn: func(_ context.Context, args map[string]string) (string, error) {
		return args["text"], nil
	}})
	f := newFixture(t, backend, func(c *Config) {
		c.Registry = reg
		c.BackendTimeout = time.Second
	})
	res := f.run(t, Request{Message: "delegate"})

	if !res.Success || res.Output != "Parent done." {
		t.Fatalf("result = %+v", res)
	}
	var delegated *models.ToolResult
	for i := range res.ToolResults {
		if res.ToolResults[i].Name == DelegateToolName {
			delegated = &res.ToolResults[i]
		}
	}
	if delegated == nil || !delegated.Success || delegated.Output != "Sub-agent finished." {
		t.Fatalf("delegate result = %+v", delegated)
	}
	if n := reg.ErrorCount(DelegateToolName); n != 0 {
		t.Fatalf("delegate error count = %d", n)
	}
}

func TestSubAgentFailureDoesNotCountAgainstDelegation(t *testing.T) {
	backend := llmtest.New(tagged(DelegateToolName, map[string]string{"task": "doomed"}))
	backend.ThenError(errors.New("backend down"))
	backend.Then("Parent done.")
	f := newFixture(t, backend, nil)
	res := f.run(t, Request{Message: "delegate"})

	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	tr := res.ToolResults[len(res.ToolResults)-1]
	if tr.Name != DelegateToolName || tr.Success || tr.ErrorCode != string(tools.ErrorSubAgent) {
		t.Fatalf("delegate result = %+v", tr)
	}
	if n := f.registry.ErrorCount(DelegateToolName); n != 0 {
		t.Fatalf("delegate error count = %d", n)
	}
}

func TestDelegateToolOutsideRun(t *testing.T) {
	if _, err := (DelegateTool{}).Execute(context.Background(), map[string]string{"task": "x"}); err == nil {
		t.Fatal("expected error outside a run")
	}
	if err := (DelegateTool{}).Validate(map[string]string{}); err == nil {
		t.Fatal("expected missing task error")
	}
}

func TestRuntimeRegistersBuiltins(t *testing.T) {
	f := newFixture(t, llmtest.New(), nil)
	for _, name := range []string{models.ResponseTool, DelegateToolName} {
		if !f.registry.Has(name) {
			t.Fatalf("%s not registered", name)
		}
	}
}
