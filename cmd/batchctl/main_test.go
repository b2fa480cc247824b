package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecipients(t *testing.T) {
	in := "\ufeffCompany, EMAIL,name,Designation,Notes\n" +
		"Fortek,sahil@gmail.com,Sahil,Software Developer,x\n" +
		",,,\n" +
		"TechCorp,alex@gmail.com,Alex\n"

	rows, err := readRecipients(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, batch.RecipientInput{Name: "Sahil", Email: "sahil@gmail.com", Designation: "Software Developer", Company: "Fortek"}, rows[0])
	assert.Equal(t, "Alex", rows[1].Name)
	assert.Empty(t, rows[1].Designation)
}

func TestReadRecipientsMissingColumn(t *testing.T) {
	_, err := readRecipients(strings.NewReader("Name,Email,Company\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"designation"`)

	_, err = readRecipients(strings.NewReader(""))
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUploadCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in batch.CreateInput
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "b1", in.BatchID)
		assert.Len(t, in.Recipients, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(batch.CreateResult{BatchID: "b1", TotalEmails: 1})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "list.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Email,Designation,Company\nAlex,alex@gmail.com,PM,TechCorp\n"), 0o600))

	out, err := execute(t, "--server", srv.URL, "upload", "-f", path,
		"--batch-id", "b1", "--sender-name", "Sahil", "--sender-email", "sahil@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "batch b1 created: 1 recipients, 0 skipped\n", out)
}

func TestSendAndWatchCommand(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/send", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Credentials domain.Credentials `json:"credentials"`
			BatchID     string             `json:"batchId"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body.Credentials.Password)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.DispatchAck{Message: "Email sending initialized successfully", BatchID: body.BatchID, TotalEmails: 1})
	})
	mux.HandleFunc("/api/send/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "id: 1\ndata: {\"type\":\"init\",\"batchId\":\"b1\",\"total\":1,\"pending\":1}\n\n")
		io.WriteString(w, "id: 2\ndata: {\"type\":\"complete\",\"batchId\":\"b1\",\"total\":1,\"sent\":1}\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("BATCHCTL_PASSWORD", "secret")
	out, err := execute(t, "--server", srv.URL, "send", "b1", "--name", "Sahil", "--email", "sahil@gmail.com", "--watch")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "batch b1, 1 emails")
	assert.True(t, strings.HasPrefix(lines[1], "init"))
	assert.True(t, strings.HasPrefix(lines[2], "complete"))
	assert.Contains(t, lines[2], "sent=1")
}

func TestSendRequiresPassword(t *testing.T) {
	t.Setenv("BATCHCTL_PASSWORD", "")
	_, err := execute(t, "--server", "http://127.0.0.1:1", "send", "b1", "--name", "x", "--email", "x@gmail.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password is required")
}

func TestSummaryCommandJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/summary/b1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.BatchSummary{BatchID: "b1", Total: 3, Sent: 2, Failed: 1})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "summary", "b1", "--json")
	require.NoError(t, err)

	var sum domain.BatchSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
}
