package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/MeKo-Tech/wmclean/internal/server"
	"github.com/MeKo-Tech/wmclean/internal/utils"
	"github.com/cucumber/godog"
)

func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startServer(server.RateLimitConfig{})
}

func (testCtx *TestContext) theServerIsRunningWithRequestsPerMinute(n int) error {
	return testCtx.startServer(server.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: n,
		RequestsPerHour:   1000,
		MaxRequestsPerDay: 10000,
	})
}

func (testCtx *TestContext) startServer(limits server.RateLimitConfig) error {
	if testCtx.HTTPServer != nil {
		return nil
	}
	srv, err := server.NewServer(server.Config{
		ModelsDir:  filepath.Join(testCtx.TempDir, "assets"),
		Version:    "test",
		RateLimit:  limits,
		Dispatcher: remover.DefaultConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) stopServer() {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		_ = testCtx.Server.Close()
		testCtx.Server = nil
	}
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPBody = body
	testCtx.LastHTTPHeaders = map[string]string{}
	for name := range resp.Header {
		testCtx.LastHTTPHeaders[name] = resp.Header.Get(name)
	}
	return nil
}

func (testCtx *TestContext) iSendAGETRequestTo(path string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := http.Get(testCtx.HTTPServer.URL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iUpload(name string) error {
	return testCtx.upload(name, nil)
}

func (testCtx *TestContext) iUploadWithFields(name string, table *godog.Table) error {
	fields := map[string]string{}
	for i, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("row %d: expected field and value", i)
		}
		if i == 0 && row.Cells[0].Value == "field" {
			continue
		}
		fields[row.Cells[0].Value] = row.Cells[1].Value
	}
	return testCtx.upload(name, fields)
}

func (testCtx *TestContext) upload(name string, fields map[string]string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.HTTPServer.URL+"/watermark/remove", mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s is %q, expected %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(string(testCtx.LastHTTPBody), expected) {
		return fmt.Errorf("response does not contain %q: %s", expected, testCtx.LastHTTPBody)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, value string) error {
	var decoded map[string]any
	if err := json.Unmarshal(testCtx.LastHTTPBody, &decoded); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	if got := fmt.Sprint(decoded[field]); got != value {
		return fmt.Errorf("field %s is %q, expected %q", field, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseImageShouldHaveSize(w, h int) error {
	img, _, err := utils.DecodeImage(bytes.NewReader(testCtx.LastHTTPBody))
	if err != nil {
		return fmt.Errorf("response is not an image: %w", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(w, h) {
		return fmt.Errorf("response image is %dx%d, expected %dx%d", got.X, got.Y, w, h)
	}
	return nil
}

func (testCtx *TestContext) iSaveTheResponseAs(name string) error {
	return os.WriteFile(testCtx.path(name), testCtx.LastHTTPBody, 0o600)
}

// RegisterServerSteps registers the HTTP server steps.
func RegisterServerSteps(sc *godog.ScenarioContext, testCtx *TestContext) {
	sc.Step(`^the server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the server is running with a limit of (\d+) requests? per minute$`,
		testCtx.theServerIsRunningWithRequestsPerMinute)

	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^I upload "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^I upload "([^"]*)" with fields:$`, testCtx.iUploadWithFields)
	sc.Step(`^I save the response as "([^"]*)"$`, testCtx.iSaveTheResponseAs)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response image should have size (\d+)x(\d+)$`, testCtx.theResponseImageShouldHaveSize)
}
