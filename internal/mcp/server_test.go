package mcp

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/form-field-mapper/internal/config"
	"github.com/a3tai/form-field-mapper/internal/descriptions"
	"github.com/a3tai/form-field-mapper/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FormsDir = t.TempDir()
	cfg.ServerName = "test-server"

	svc, err := service.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	server, err := NewServer(cfg, svc, nil)
	require.NoError(t, err)
	return server
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// extractTextFromResult returns the first text content of a result
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// ok calls h and decodes its JSON result into out
func ok(t *testing.T, h handler, args map[string]interface{}, out interface{}) {
	t.Helper()
	result, err := h(context.Background(), call(args))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), out))
	}
}

// fails calls h and returns the text of its error result
func fails(t *testing.T, h handler, args map[string]interface{}) string {
	t.Helper()
	result, err := h(context.Background(), call(args))
	require.NoError(t, err)
	require.True(t, result.IsError, "expected an error result, got %s", extractTextFromResult(result))
	return extractTextFromResult(result)
}

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FormsDir = t.TempDir()
	svc, err := service.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	_, err = NewServer(nil, svc, nil)
	assert.Error(t, err)
	_, err = NewServer(cfg, nil, nil)
	assert.Error(t, err)

	server, err := NewServer(cfg, svc, nil)
	require.NoError(t, err)
	assert.NotNil(t, server.mcpServer)
	assert.Same(t, cfg, server.config)
}

func TestServerInfoTool(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.config.FormsDir, "i-485.pdf"), []byte("%PDF-1.7"), 0o644))

	var info service.ServerInfoResult
	ok(t, s.handleServerInfo, nil, &info)

	assert.Equal(t, "test-server", info.ServerName)
	assert.Equal(t, "memory", info.Storage)
	assert.Equal(t, []string{"i-485.pdf"}, info.Forms)
	assert.Positive(t, info.CanonicalFields)
	assert.Len(t, info.AvailableTools, len(descriptions.ToolNames))
}

func TestClassifyFieldTool(t *testing.T) {
	s := newTestServer(t)

	var result struct {
		Persona string `json:"persona"`
		Domain  string `json:"domain"`
	}
	ok(t, s.handleClassifyField, map[string]interface{}{"name": "AttorneyStateBarNumber[0]"}, &result)
	assert.Equal(t, "attorney", result.Persona)

	assert.Contains(t, fails(t, s.handleClassifyField, map[string]interface{}{}), "name")
}

func TestExtractFieldsRejectsPathsOutsideFormsDir(t *testing.T) {
	s := newTestServer(t)

	text := fails(t, s.handleExtractFields, map[string]interface{}{"path": "../../etc/passwd"})
	assert.Contains(t, text, "security validation failed")

	fails(t, s.handleMapForm, map[string]interface{}{"path": "missing.pdf", "version": "1.0.0"})
}

func TestRegistryTools(t *testing.T) {
	s := newTestServer(t)

	var added struct {
		FieldName string `json:"field_name"`
	}
	ok(t, s.handleAddCanonicalField, map[string]interface{}{
		"field": map[string]interface{}{"field_name": "spouse_employer", "description": "Employer of the spouse"},
	}, &added)
	assert.Equal(t, "spouse_employer", added.FieldName)
	fails(t, s.handleAddCanonicalField, map[string]interface{}{})

	mapping := `{"form_type":"I-485","version":"1.0.0","field_ids":["Pt1Line1a_FamilyName[0]"]}`
	ok(t, s.handleRegisterMapping, map[string]interface{}{"canonical_field": "family_name", "mapping": mapping}, nil)
	ok(t, s.handleRegisterMapping, map[string]interface{}{"canonical_field": "family_name", "mapping": mapping}, nil)

	text := fails(t, s.handleRegisterMapping, map[string]interface{}{"canonical_field": "given_name", "mapping": mapping})
	assert.Contains(t, text, "already mapped")

	text = fails(t, s.handleRegisterMapping, map[string]interface{}{"canonical_field": "family_name", "mapping": "{not json"})
	assert.Contains(t, text, "invalid mapping")

	var unmapped service.ListUnmappedResult
	ok(t, s.handleListUnmapped, map[string]interface{}{"form_type": "I-485", "version": "1.0.0"}, &unmapped)
	assert.Equal(t, "i485", unmapped.FormType)
	assert.Empty(t, unmapped.Fields)
}

const v1Fields = `[
	{"field_id": "FamilyName", "field_type": "text"},
	{"field_id": "DateOfBirth", "field_type": "text", "data_type": "date"},
	{"field_id": "Fax", "field_type": "text"}
]`

var v2Fields = []interface{}{
	map[string]interface{}{"field_id": "LastName", "field_type": "text"},
	map[string]interface{}{"field_id": "DateOfBirth", "field_type": "text", "data_type": "date"},
	map[string]interface{}{"field_id": "Country", "field_type": "text"},
}

const strategy = `{
	"form_type": "I-485",
	"from_version": "1.0.0",
	"to_version": "2.0.0",
	"rules": [
		{"field_id": "FamilyName", "change_type": "modified", "transform": "rename", "target_field": "LastName"},
		{"field_id": "Fax", "change_type": "removed", "transform": "drop"},
		{"field_id": "Country", "change_type": "added", "default": "USA"}
	]
}`

func approve(t *testing.T, s *Server, version string, fields interface{}) {
	t.Helper()
	var created struct {
		FormType string `json:"form_type"`
		Status   string `json:"status"`
	}
	ok(t, s.handleCreateSchema, map[string]interface{}{
		"form_type": "I-485", "version": version, "fields": fields, "actor": "analyst",
	}, &created)
	require.Equal(t, "i485", created.FormType)
	require.Equal(t, "draft", created.Status)

	for _, action := range []string{service.ReviewSubmit, service.ReviewApprove} {
		ok(t, s.handleReviewSchema, map[string]interface{}{
			"form_type": "i485", "version": version, "action": action, "actor": "reviewer",
		}, nil)
	}
}

func TestSchemaAndMigrationTools(t *testing.T) {
	s := newTestServer(t)
	approve(t, s, "1.0.0", v1Fields)
	approve(t, s, "2.0.0", v2Fields)

	var diff struct {
		RequiredBump string `json:"required_bump"`
		Breaking     bool   `json:"breaking"`
		BumpWarning  string `json:"bump_warning"`
		Diff         struct {
			Changes []struct {
				FieldID    string `json:"field_id"`
				ChangeType string `json:"change_type"`
			} `json:"changes"`
		} `json:"diff"`
	}
	ok(t, s.handleDiffSchemas, map[string]interface{}{
		"form_type": "i485", "from_version": "1.0.0", "to_version": "2.0.0",
	}, &diff)
	assert.Equal(t, "major", diff.RequiredBump)
	assert.True(t, diff.Breaking)
	assert.Empty(t, diff.BumpWarning)
	assert.Len(t, diff.Diff.Changes, 4)

	var derived struct {
		MigrationType string `json:"migration_type"`
	}
	ok(t, s.handleDeriveStrategy, map[string]interface{}{
		"form_type": "i485", "from_version": "1.0.0", "to_version": "2.0.0",
	}, &derived)
	assert.Equal(t, "manual", derived.MigrationType, "breaking changes need a reviewed strategy")

	var activated service.ActivateSchemaResult
	ok(t, s.handleActivateSchema, map[string]interface{}{"form_type": "i485", "version": "1.0.0"}, &activated)
	assert.Equal(t, "1.0.0", activated.Version)
	assert.Empty(t, activated.Previous)

	ok(t, s.handleSaveClientData, map[string]interface{}{
		"client_id": "c-42", "form_type": "i485", "version": "1.0.0",
		"data": map[string]interface{}{"FamilyName": "Garcia", "DateOfBirth": "01/02/1990", "Fax": "555-0100"},
	}, nil)

	text := fails(t, s.handleActivateSchema, map[string]interface{}{"form_type": "i485", "version": "2.0.0"})
	assert.Contains(t, strings.ToLower(text), "migration")

	ok(t, s.handleRegisterStrategy, map[string]interface{}{"strategy": strategy}, nil)
	ok(t, s.handleActivateSchema, map[string]interface{}{"form_type": "i485", "version": "2.0.0"}, &activated)
	assert.Equal(t, "2.0.0", activated.Version)
	assert.Equal(t, "1.0.0", activated.Previous)

	var migrated struct {
		Path  []string               `json:"path"`
		Data  map[string]interface{} `json:"data"`
		Audit []struct {
			FieldID string `json:"field_id"`
			Action  string `json:"action"`
		} `json:"audit"`
	}
	ok(t, s.handleMigrateData, map[string]interface{}{
		"form_type": "i485", "to_version": "2.0.0", "client_id": "c-42",
	}, &migrated)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, migrated.Path)
	assert.Equal(t, map[string]interface{}{
		"LastName":    "Garcia",
		"DateOfBirth": "01/02/1990",
		"Country":     "USA",
	}, migrated.Data)
	assert.Len(t, migrated.Audit, 3)

	ok(t, s.handleMigrateData, map[string]interface{}{
		"form_type": "i485", "from_version": "1.0.0", "to_version": "2.0.0",
		"data": `{"FamilyName": "Nguyen"}`,
	}, &migrated)
	assert.Equal(t, "Nguyen", migrated.Data["LastName"])

	fails(t, s.handleMigrateData, map[string]interface{}{"form_type": "i485", "to_version": "2.0.0"})
	fails(t, s.handleMigrateData, map[string]interface{}{
		"form_type": "i485", "from_version": "2.0.0", "to_version": "1.0.0", "data": map[string]interface{}{},
	})
}

func TestReviewSchemaRejectsUnknownAction(t *testing.T) {
	s := newTestServer(t)
	ok(t, s.handleCreateSchema, map[string]interface{}{"form_type": "i130", "fields": v1Fields}, nil)

	text := fails(t, s.handleReviewSchema, map[string]interface{}{"form_type": "i130", "version": "1.0.0", "action": "publish"})
	assert.Contains(t, text, "unknown review action")

	fails(t, s.handleCreateSchema, map[string]interface{}{"form_type": "i130"})
}

func TestDiffSchemasInline(t *testing.T) {
	s := newTestServer(t)

	var diff struct {
		RequiredBump string `json:"required_bump"`
		Breaking     bool   `json:"breaking"`
		BumpWarning  string `json:"bump_warning"`
	}
	ok(t, s.handleDiffSchemas, map[string]interface{}{
		"from": map[string]interface{}{"form_type": "i765", "version": "1.0.0", "fields": []interface{}{
			map[string]interface{}{"field_id": "Name", "field_type": "text"},
		}},
		"to": `{"form_type": "i765", "version": "1.0.1", "fields": [
			{"field_id": "Name", "field_type": "text"},
			{"field_id": "Email", "field_type": "text"}
		]}`,
	}, &diff)
	assert.Equal(t, "minor", diff.RequiredBump)
	assert.False(t, diff.Breaking)
	assert.Contains(t, diff.BumpWarning, "minor bump", "1.0.1 is only a patch step")

	text := fails(t, s.handleDiffSchemas, map[string]interface{}{"form_type": "i765"})
	assert.Contains(t, text, "provide either")
}

func TestServer_RunServerModeStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	s := newTestServer(t)
	s.config.Mode = config.ModeServer
	s.config.Host = "127.0.0.1"
	s.config.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
