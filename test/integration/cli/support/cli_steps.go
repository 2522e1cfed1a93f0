package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/wmclean/cmd/wmclean/cmd"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/MeKo-Tech/wmclean/internal/utils"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// iRunCommand runs a wmclean command line in-process.
func (testCtx *TestContext) iRunCommand(command string) error {
	args := strings.Fields(command)
	if len(args) == 0 || args[0] != "wmclean" {
		return fmt.Errorf("command must start with wmclean: %q", command)
	}

	root := cmd.NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args[1:])

	prevLogger := slog.Default()
	start := time.Now()
	err := root.ExecuteContext(context.Background())
	testCtx.LastDuration = time.Since(start)
	slog.SetDefault(prevLogger)

	testCtx.LastCommand = command
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err
	testCtx.LastExitCode = cmd.ExitCode(err)
	return nil
}

func (testCtx *TestContext) aWatermarkedImage(name string, w, h int) error {
	path := testCtx.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	img := testutil.Watermarked(testutil.Textured(w, h, 6), 30, 15, "wm")
	return utils.SaveImage(img, path, 100)
}

func (testCtx *TestContext) aCorruptImage(name string) error {
	path := testCtx.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("definitely not an image"), 0o600)
}

func (testCtx *TestContext) aConfigFile(name string, content *godog.DocString) error {
	testCtx.ConfigFile = testCtx.path(name)
	return os.WriteFile(testCtx.ConfigFile, []byte(content.Content), 0o600)
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %v\nstdout:\n%s\nstderr:\n%s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFailWithExitCode(code int) error {
	if testCtx.LastExitCode != code {
		return fmt.Errorf("expected exit code %d, got %d (error: %v)", code, testCtx.LastExitCode, testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain %q\noutput:\n%s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(expected string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected an error containing %q, got none", expected)
	}
	if !strings.Contains(testCtx.LastError.Error(), expected) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, expected)
	}
	return nil
}

func (testCtx *TestContext) theLogsShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastStderr, expected) {
		return fmt.Errorf("stderr does not contain %q\nstderr:\n%s", expected, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theLogsShouldBeJSONLines() error {
	lines := strings.Split(strings.TrimSpace(testCtx.LastStderr), "\n")
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			return fmt.Errorf("log line is not JSON: %s", line)
		}
	}
	return nil
}

func (testCtx *TestContext) theOutputJSONFieldShouldBe(field, value string) error {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &decoded); err != nil {
		return fmt.Errorf("output is not JSON: %w", err)
	}
	if got := fmt.Sprint(decoded[field]); got != value {
		return fmt.Errorf("field %s is %q, expected %q", field, got, value)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.path(name)); err != nil {
		return fmt.Errorf("file %s should exist: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldNotExist(name string) error {
	if _, err := os.Stat(testCtx.path(name)); err == nil {
		return fmt.Errorf("file %s should not exist", name)
	}
	return nil
}

func (testCtx *TestContext) loadPair(original, cleaned string) (*image.NRGBA, *image.NRGBA, error) {
	a, _, err := utils.LoadImage(testCtx.path(original))
	if err != nil {
		return nil, nil, err
	}
	b, _, err := utils.LoadImage(testCtx.path(cleaned))
	if err != nil {
		return nil, nil, err
	}
	na, nb := imaging.Clone(a), imaging.Clone(b)
	if na.Bounds().Size() != nb.Bounds().Size() {
		return nil, nil, fmt.Errorf("size changed from %v to %v", na.Bounds().Size(), nb.Bounds().Size())
	}
	return na, nb, nil
}

func (testCtx *TestContext) imageUnchangedOutsideCorner(cleaned, original string, wp, hp float64) error {
	a, b, err := testCtx.loadPair(original, cleaned)
	if err != nil {
		return err
	}
	_, mask := region.Build(a.Bounds().Dx(), a.Bounds().Dy(), wp, hp)
	for y := range mask.Height {
		for x := range mask.Width {
			if mask.At(x, y) {
				continue
			}
			if a.NRGBAAt(x, y) != b.NRGBAAt(x, y) {
				return fmt.Errorf("pixel (%d,%d) outside the corner changed", x, y)
			}
		}
	}
	return nil
}

func (testCtx *TestContext) imageDiffersInsideCorner(cleaned, original string, wp, hp float64) error {
	a, b, err := testCtx.loadPair(original, cleaned)
	if err != nil {
		return err
	}
	_, mask := region.Build(a.Bounds().Dx(), a.Bounds().Dy(), wp, hp)
	if testutil.MeanAbsDiff(a, b, mask) == 0 {
		return fmt.Errorf("%s is identical to %s inside the corner", cleaned, original)
	}
	return nil
}

func (testCtx *TestContext) imageShouldHaveSize(name string, w, h int) error {
	img, _, err := utils.LoadImage(testCtx.path(name))
	if err != nil {
		return err
	}
	if got := img.Bounds().Size(); got != image.Pt(w, h) {
		return fmt.Errorf("image %s is %dx%d, expected %dx%d", name, got.X, got.Y, w, h)
	}
	return nil
}

// RegisterCLISteps registers the command line steps.
func RegisterCLISteps(sc *godog.ScenarioContext, testCtx *TestContext) {
	sc.Step(`^a watermarked image "([^"]*)" of size (\d+)x(\d+)$`, testCtx.aWatermarkedImage)
	sc.Step(`^a corrupt image file "([^"]*)"$`, testCtx.aCorruptImage)
	sc.Step(`^a config file "([^"]*)" with:$`, testCtx.aConfigFile)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)

	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail with exit code (\d+)$`, testCtx.theCommandShouldFailWithExitCode)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^the logs should contain "([^"]*)"$`, testCtx.theLogsShouldContain)
	sc.Step(`^the logs should be JSON lines$`, testCtx.theLogsShouldBeJSONLines)
	sc.Step(`^the output JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theOutputJSONFieldShouldBe)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should not exist$`, testCtx.theFileShouldNotExist)
	sc.Step(`^the image "([^"]*)" should match "([^"]*)" outside the ([\d.]+)% x ([\d.]+)% corner$`,
		testCtx.imageUnchangedOutsideCorner)
	sc.Step(`^the image "([^"]*)" should differ from "([^"]*)" inside the ([\d.]+)% x ([\d.]+)% corner$`,
		testCtx.imageDiffersInsideCorner)
	sc.Step(`^the image "([^"]*)" should have size (\d+)x(\d+)$`, testCtx.imageShouldHaveSize)
}
