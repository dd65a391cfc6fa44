package llm

import (
	"encoding/json"
	"testing"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

func TestAnthropicConvertMessagesSkipsSystem(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	result, err := p.convertMessages([]CompletionMessage{
		{Role: "system", Content: "instructions"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("message count = %d, want 1 (system skipped)", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("role = %s, want user", result[0].Role)
	}
}

func TestAnthropicConvertMessagesToolRoleBecomesUser(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	result, err := p.convertMessages([]CompletionMessage{
		{Role: "tool", ToolResults: []ToolResult{
			{ToolCallID: "c1", Content: "result text"},
		}},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("message count = %d, want 1", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("role = %s, tool results must ride user messages", result[0].Role)
	}
	if len(result[0].Content) != 1 {
		t.Fatalf("content block count = %d, want 1", len(result[0].Content))
	}
	if result[0].Content[0].OfToolResult == nil {
		t.Error("expected a tool_result content block")
	}
}

func TestAnthropicConvertMessagesImageBlocks(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	result, err := p.convertMessages([]CompletionMessage{
		{Role: "user", Content: "what is this", Attachments: []models.Attachment{
			{Type: models.AttachmentImage, URL: "https://img.example/a.png"},
			{Type: models.AttachmentDocument, URL: "https://docs.example/a.pdf"},
		}},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	blocks := result[0].Content
	if len(blocks) != 2 {
		t.Fatalf("content block count = %d, want text + image", len(blocks))
	}
	if blocks[1].OfImage == nil {
		t.Fatal("expected image block for image attachment")
	}
	if blocks[1].OfImage.Source.OfURL == nil || blocks[1].OfImage.Source.OfURL.URL != "https://img.example/a.png" {
		t.Errorf("image source = %+v", blocks[1].OfImage.Source)
	}
}

func TestAnthropicConvertMessagesInvalidToolInput(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	_, err := p.convertMessages([]CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "x", Input: json.RawMessage(`{broken`)},
		}},
	})
	if err == nil {
		t.Error("expected error for invalid tool call input JSON")
	}
}

func TestAnthropicConvertToolsRejectsBadSchema(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	_, err := p.convertTools([]Tool{schemaTool{name: "bad", schema: `{broken`}})
	if err == nil {
		t.Error("expected error for invalid tool schema")
	}
}

func TestAnthropicConvertToolsCarriesDescription(t *testing.T) {
	p := NewAnthropicProvider("test-key")
	result, err := p.convertTools([]Tool{schemaTool{name: "good", schema: `{"type":"object"}`}})
	if err != nil {
		t.Fatalf("convertTools() error = %v", err)
	}
	if len(result) != 1 || result[0].OfTool == nil {
		t.Fatalf("result = %+v", result)
	}
	if result[0].OfTool.Name != "good" {
		t.Errorf("name = %s", result[0].OfTool.Name)
	}
	if result[0].OfTool.Description.Value != "test tool" {
		t.Errorf("description = %+v", result[0].OfTool.Description)
	}
}
