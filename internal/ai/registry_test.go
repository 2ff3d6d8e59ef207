package ai

import (
	"context"
	"testing"
)

type namedProvider struct {
	name string
}

func (p *namedProvider) Classify(context.Context, ClassifyRequest) (*Classification, error) {
	return &Classification{}, nil
}

func (p *namedProvider) JudgeSameEvent(context.Context, string, string) (*SameEventJudgement, error) {
	return &SameEventJudgement{}, nil
}

func (p *namedProvider) Name() string { return p.name }

func TestRegistryResolvesDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry("zhipu")
	if err := r.Register(&namedProvider{name: "zhipu"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&namedProvider{name: "Mock"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	p, err := r.Provider("")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if p.Name() != "zhipu" {
		t.Fatalf("default provider = %q, want zhipu", p.Name())
	}

	p, err = r.Provider("MOCK")
	if err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if p.Name() != "Mock" {
		t.Fatalf("named provider = %q, want Mock", p.Name())
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry("")
	if err := r.Register(&namedProvider{name: "zhipu"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Provider("missing"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestRegistryRejectsNilAndUnnamed(t *testing.T) {
	t.Parallel()

	r := NewRegistry("")
	if err := r.Register(nil); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if err := r.Register(&namedProvider{name: "  "}); err == nil {
		t.Fatalf("expected error for unnamed provider")
	}
}
