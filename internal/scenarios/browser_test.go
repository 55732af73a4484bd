package scenarios

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/harness"
)

// TestBuiltinSuite_Chrome runs the built-in suite in headless Chrome against
// a static copy of the application. Set TODOCHECK_BROWSER_TESTS=1 to run it.
func TestBuiltinSuite_Chrome(t *testing.T) {
	if os.Getenv("TODOCHECK_BROWSER_TESTS") != "1" {
		t.Skip("set TODOCHECK_BROWSER_TESTS=1 to run browser tests")
	}

	srv := httptest.NewServer(http.FileServer(http.Dir("testdata/app")))
	defer srv.Close()

	all, err := Load("")
	require.NoError(t, err)

	opts := harness.DefaultOptions()
	opts.BaseURL = srv.URL + "/"
	opts.ArtifactsDir = t.TempDir()
	h, err := harness.New(opts)
	require.NoError(t, err)

	launcher, err := browser.NewLauncher(browser.DriverChromedp, browser.DefaultOptions(), nil)
	require.NoError(t, err)
	defer launcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	suite := &harness.Suite{Harness: h, Launcher: launcher, Parallel: 2}
	result := suite.Run(ctx, all)

	for _, r := range result.Results {
		assert.Truef(t, r.Passed(), "%s failed at step %v (%s): %s", r.Name, r.FailingStep, r.Code, r.Diagnostic)
	}
}
