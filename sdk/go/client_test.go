package testlinesdk

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xuri/excelize/v2"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/engine"
	"testline/internal/importer"
	"testline/internal/migrate"
	"testline/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T, user string) *Client {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default(), nil),
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: secret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	c := New("http://" + ln.Addr().String() + "/v1")
	c.BearerToken = token
	return c
}

func TestClientBulkExecutionFlow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "alice")

	p, err := c.CreateProject(ctx, "Checkout", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ep, err := c.CreateEpic(ctx, p.ID, "Payments")
	if err != nil {
		t.Fatalf("create epic: %v", err)
	}
	st, err := c.CreateStory(ctx, ep.ID, "Pay by card")
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	var ids []string
	for _, name := range []string{"Card accepted", "Card declined"} {
		tc, err := c.CreateTestCase(ctx, TestCase{
			UserStoryID:     st.ID,
			Name:            name,
			TestSteps:       "Submit the payment form",
			ExpectedResults: "The order status is shown",
			Priority:        "high",
		})
		if err != nil {
			t.Fatalf("create test case: %v", err)
		}
		if tc.ProjectID != p.ID {
			t.Fatalf("expected project %s, got %s", p.ID, tc.ProjectID)
		}
		ids = append(ids, tc.ID)
	}

	first, err := c.BulkExecute(ctx, "passed", "smoke", "", ids...)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if first.Created != 2 || first.Updated != 0 {
		t.Fatalf("unexpected first bulk result: %+v", first)
	}
	again, err := c.BulkExecute(ctx, "failed", "", first.TestRunID, ids...)
	if err != nil {
		t.Fatalf("bulk again: %v", err)
	}
	if again.Created != 0 || again.Updated != 2 {
		t.Fatalf("expected updates only, got %+v", again)
	}

	m, err := c.Metrics(ctx, ReportFilter{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Total != 2 || m.StatusCounts["failed"] != 2 || !m.Complete {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	pdf, err := c.ExportPDF(ctx, ReportFilter{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}

	events, err := c.Events(ctx, 50)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected audit events")
	}
}

func TestClientImportAndErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "bob")
	p, err := c.CreateProject(ctx, "Search", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ep, err := c.CreateEpic(ctx, p.ID, "Ranking")
	if err != nil {
		t.Fatalf("create epic: %v", err)
	}
	st, err := c.CreateStory(ctx, ep.ID, "Sort by price")
	if err != nil {
		t.Fatalf("create story: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	header := make([]any, 0, len(importer.RequiredHeaders))
	for _, h := range importer.RequiredHeaders {
		header = append(header, h)
	}
	row := []any{"Lowest price first", "", "Choose sort by price", "Cheapest item is first", "Medium", "no"}
	if err := f.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &row); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	res, err := c.ImportTestCases(ctx, st.ID, "cases.xlsx", buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !res.Success || res.CreatedCount != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}

	_, err = c.CreateEpic(ctx, "missing-project", "Orphan")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode < 400 {
		t.Fatalf("expected a client error, got %d", apiErr.StatusCode)
	}
}
