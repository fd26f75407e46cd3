package main

import (
	"context"
	"strings"
	"testing"

	execution "github.com/kevin-foreman/apollo-server/internal/execution"
	language "github.com/kevin-foreman/apollo-server/internal/language"
)

func TestRunUnknownCommand(t *testing.T) {
	err := run([]string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRunMissingCommand(t *testing.T) {
	if err := run(nil); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestHelpTopics(t *testing.T) {
	for _, topic := range []string{"serve", "hash"} {
		if err := cmdHelp([]string{topic}); err != nil {
			t.Fatalf("help %s: %v", topic, err)
		}
	}
	if err := cmdHelp([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown help topic")
	}
}

func TestDemoExecutor(t *testing.T) {
	schema := language.MustLoadSchema(demoSDL)
	doc, err := language.ParseQuery("{ ping counter }")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	exec := demoExecutor()
	result, err := exec(context.Background(), execution.Args{Schema: schema, Document: doc})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	data := result.Data.(map[string]any)
	if data["ping"] != "pong" {
		t.Fatalf("unexpected ping: %v", data["ping"])
	}
	if v, ok := data["counter"].(int); !ok || v != 0 {
		t.Fatalf("unexpected counter: %v", data["counter"])
	}
}

func TestDemoExecutorMutation(t *testing.T) {
	schema := language.MustLoadSchema(demoSDL)
	doc, err := language.ParseQuery("mutation { increment(amount: 5) }")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	exec := demoExecutor()
	result, err := exec(context.Background(), execution.Args{Schema: schema, Document: doc})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	data := result.Data.(map[string]any)
	if v, ok := data["increment"].(int); !ok || v != 5 {
		t.Fatalf("unexpected increment result: %v", data["increment"])
	}
}
