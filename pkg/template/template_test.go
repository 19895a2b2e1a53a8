package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	ctx := NewContext(
		map[string]any{"device": "fw-01", "threshold": 80},
		map[string]any{"alert_host": "web-3", "device": "ignored-default"},
	)
	ctx.SetStep("step-1", StepState{
		Output: map[string]any{"pool_members": 3, "pool": map[string]any{"name": "web-pool"}},
		Status: "complete",
		Target: "lb-01",
	})
	ctx.SetStep("step-2", StepState{
		Output: `{"cpu": 91, "memory": 40}`,
		Status: "complete",
	})
	ctx.SetStep("step-3", StepState{
		Output: "checking pool...\ndone {\"healthy\": false} in 2s",
		Status: "failed",
	})

	tests := []struct {
		name         string
		give         string
		want         string
		wantWarnings int
	}{
		{
			name: "chain parameter",
			give: "reboot {{chain.device}}",
			want: "reboot fw-01",
		},
		{
			name: "explicit chain parameter beats injected value",
			give: "{{device}}",
			want: "fw-01",
		},
		{
			name: "injected bare name",
			give: "host is {{alert_host}}",
			want: "host is web-3",
		},
		{
			name: "step output field",
			give: "{{steps.step-1.output.pool_members}} members",
			want: "3 members",
		},
		{
			name: "nested step output field",
			give: "{{steps.step-1.output.pool.name}}",
			want: "web-pool",
		},
		{
			name: "step status",
			give: "previous: {{steps.step-1.status}}",
			want: "previous: complete",
		},
		{
			name: "step target",
			give: "{{steps.step-1.target}}",
			want: "lb-01",
		},
		{
			name: "output stored as JSON string",
			give: "cpu at {{steps.step-2.output.cpu}}%",
			want: "cpu at 91%",
		},
		{
			name: "json fragment embedded in log text",
			give: "{{steps.step-3.output.healthy}}",
			want: "false",
		},
		{
			name:         "unresolved reference becomes empty string",
			give:         "value: {{steps.step-9.output.missing}}",
			want:         "value: ",
			wantWarnings: 1,
		},
		{
			name:         "unresolved chain parameter",
			give:         "{{chain.nope}}",
			want:         "",
			wantWarnings: 1,
		},
		{
			name: "multiple placeholders",
			give: "{{chain.device}}/{{steps.step-1.status}}",
			want: "fw-01/complete",
		},
		{
			name: "whitespace inside braces",
			give: "{{ chain.device }}",
			want: "fw-01",
		},
		{
			name: "no placeholders passes through",
			give: "plain literal",
			want: "plain literal",
		},
		{
			name: "whole structured output renders as JSON",
			give: "{{steps.step-2.output}}",
			want: `{"cpu": 91, "memory": 40}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := Resolve(tt.give, ctx)
			assert.Equal(t, tt.want, got)
			assert.Len(t, warnings, tt.wantWarnings)
		})
	}
}

func TestResolveAll(t *testing.T) {
	ctx := NewContext(map[string]any{"device": "fw-01"}, nil)
	got, warnings := ResolveAll(map[string]string{
		"target":  "{{chain.device}}",
		"literal": "300",
		"missing": "{{chain.nope}}",
	}, ctx)
	assert.Equal(t, map[string]string{
		"target":  "fw-01",
		"literal": "300",
		"missing": "",
	}, got)
	assert.Len(t, warnings, 1)
}

func TestRefs(t *testing.T) {
	refs := Refs("restart {{chain.device}} after {{ steps.step-1.output.code }}")
	assert.Equal(t, []string{"chain.device", "steps.step-1.output.code"}, refs)

	assert.Nil(t, Refs("no placeholders here"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
